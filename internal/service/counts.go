package service

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/halcyon-social/halcyon"
	"github.com/halcyon-social/halcyon/internal/usecase"
)

const countCacheTTL = 60 // seconds

// CountService serves aggregate counts through memcached, falling back to the
// projection. The recount job invalidates entries, so reads converge quickly
// even before the TTL lapses.
type CountService struct {
	repo usecase.LikeRepository
	mc   *memcache.Client
}

func NewCountService(repo usecase.LikeRepository, mc *memcache.Client) *CountService {
	return &CountService{
		repo: repo,
		mc:   mc,
	}
}

// subjects are URIs of unbounded length; memcached keys are not
func countKey(subject string) string {
	return "like-count:" + halcyon.GetHash([]byte(subject))
}

func (s *CountService) GetLikeCount(ctx context.Context, subject string) (int64, error) {
	if s.mc != nil {
		item, err := s.mc.Get(countKey(subject))
		if err == nil {
			if count, err := strconv.ParseInt(string(item.Value), 10, 64); err == nil {
				return count, nil
			}
		}
	}

	count, err := s.repo.GetCount(ctx, subject)
	if err != nil {
		return 0, err
	}

	if s.mc != nil {
		err := s.mc.Set(&memcache.Item{
			Key:        countKey(subject),
			Value:      []byte(strconv.FormatInt(count, 10)),
			Expiration: countCacheTTL,
		})
		if err != nil {
			slog.DebugContext(
				ctx, "failed to cache like count",
				slog.String("error", err.Error()),
				slog.String("module", "counts"),
			)
		}
	}

	return count, nil
}

// Invalidate implements usecase.CountInvalidator.
func (s *CountService) Invalidate(ctx context.Context, subjects []string) {
	if s.mc == nil {
		return
	}
	for _, subject := range subjects {
		err := s.mc.Delete(countKey(subject))
		if err != nil && err != memcache.ErrCacheMiss {
			slog.DebugContext(
				ctx, "failed to invalidate like count",
				slog.String("error", err.Error()),
				slog.String("module", "counts"),
			)
		}
	}
}
