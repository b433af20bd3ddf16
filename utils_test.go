package halcyon

import "testing"

func TestParseActionURI(t *testing.T) {
	uri := ComposeActionURI("alice.example", KindLike, "3k2a")
	if uri != "hal://alice.example/net.halcyon.feed.like/3k2a" {
		t.Fatalf("unexpected uri: %s", uri)
	}

	creator, collection, rkey, err := ParseActionURI(uri)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if creator != "alice.example" || collection != KindLike || rkey != "3k2a" {
		t.Fatalf("unexpected parts: %s %s %s", creator, collection, rkey)
	}
}

func TestParseActionURIRejectsBadInput(t *testing.T) {
	cases := []string{
		"https://alice.example/net.halcyon.feed.like/3k2a",
		"hal://alice.example",
		"hal://alice.example/collection-only",
		"hal:///net.halcyon.feed.like/3k2a",
	}
	for _, uri := range cases {
		if _, _, _, err := ParseActionURI(uri); err == nil {
			t.Errorf("expected error for %s", uri)
		}
	}
}

func TestOwnerOf(t *testing.T) {
	owner, err := OwnerOf("hal://bob.example/net.halcyon.feed.post/abc")
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if owner != "bob.example" {
		t.Fatalf("unexpected owner: %s", owner)
	}

	if _, err := OwnerOf("https://bob.example/post"); err == nil {
		t.Fatal("expected error for non-hal scheme")
	}
}
