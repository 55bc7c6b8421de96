package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type stubSigner struct {
	calls int
	err   error
}

func (s *stubSigner) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("https://signed/%s?n=%d", key, s.calls), nil
}

func TestSignedURLCacheLookup(t *testing.T) {
	base := &stubSigner{}
	cache := NewSignedURLCache(base, time.Hour)

	first, err := cache.URL(context.Background(), "a.mp4")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	second, err := cache.URL(context.Background(), "a.mp4")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if first != second || base.calls != 1 {
		t.Fatalf("expected cached url, got %q %q after %d calls", first, second, base.calls)
	}
}

func TestSignedURLCacheExpiry(t *testing.T) {
	base := &stubSigner{}
	cache := NewSignedURLCache(base, time.Hour)
	now := time.Now()
	cache.now = func() time.Time { return now }

	if _, err := cache.URL(context.Background(), "a.mp4"); err != nil {
		t.Fatalf("url: %v", err)
	}

	now = now.Add(31 * time.Minute)
	if _, err := cache.URL(context.Background(), "a.mp4"); err != nil {
		t.Fatalf("url: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected re-sign after half the ttl, got %d calls", base.calls)
	}

	now = now.Add(time.Hour)
	cache.Sweep()
	if len(cache.items) != 0 {
		t.Fatalf("expected sweep to drop expired entries, got %d", len(cache.items))
	}
}

func TestSignedURLCacheInvalidateAndErrors(t *testing.T) {
	base := &stubSigner{}
	cache := NewSignedURLCache(base, time.Hour)

	if _, err := cache.URL(context.Background(), "a.mp4"); err != nil {
		t.Fatalf("url: %v", err)
	}
	cache.Invalidate("a.mp4")
	if _, err := cache.URL(context.Background(), "a.mp4"); err != nil {
		t.Fatalf("url: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected invalidate to force re-sign, got %d calls", base.calls)
	}

	failing := NewSignedURLCache(&stubSigner{err: errors.New("denied")}, time.Hour)
	if _, err := failing.URL(context.Background(), "b.mp4"); err == nil {
		t.Fatal("expected signer error")
	}
}
