package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyon-social/halcyon"
)

func TestRealtimeExitsOnContextWithOpenChannels(t *testing.T) {
	s := NewSignalService(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))

	ctx, cancel := context.WithCancel(context.Background())

	// neither channel is ever closed; cancellation must be enough to exit
	input := make(chan []string)
	output := make(chan halcyon.Event)

	done := make(chan struct{})
	go func() {
		s.Realtime(ctx, input, output)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("realtime feed did not exit on context cancellation")
	}
}
