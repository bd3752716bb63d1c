package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetOnEmptyStoreReturnsUnconfigured(t *testing.T) {
	s := NewStore()
	_, err := s.Get()
	if !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("expected ErrUnconfigured, got %v", err)
	}
	if s.Configured() {
		t.Fatalf("expected empty store to be unconfigured")
	}
}

func TestSetUpdatesTokenAndTimestamp(t *testing.T) {
	s := NewStore()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Set("  tok-1  ")
	cred, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cred.Token != "tok-1" {
		t.Fatalf("unexpected token: %q", cred.Token)
	}
	if !cred.UpdatedAt.Equal(fixed) || !s.LastUpdated().Equal(fixed) {
		t.Fatalf("unexpected updated at: %v / %v", cred.UpdatedAt, s.LastUpdated())
	}
}

func TestNewStoreWithBlankTokenStaysUnconfigured(t *testing.T) {
	s := NewStoreWithToken("   ")
	if _, err := s.Get(); !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("expected ErrUnconfigured, got %v", err)
	}
	if !s.LastUpdated().IsZero() {
		t.Fatalf("expected zero last updated, got %v", s.LastUpdated())
	}
}

func TestConcurrentSetNeverTearsReads(t *testing.T) {
	s := NewStoreWithToken("seed")
	const writers = 32
	written := map[string]struct{}{"seed": {}}
	for i := 0; i < writers; i++ {
		written[fmt.Sprintf("token-%02d-%s", i, "abcdefghijklmnopqrstuvwxyz")] = struct{}{}
	}

	var wg sync.WaitGroup
	errCh := make(chan string, writers*100)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		tok := fmt.Sprintf("token-%02d-%s", i, "abcdefghijklmnopqrstuvwxyz")
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Set(tok)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cred, err := s.Get()
				if err != nil {
					errCh <- err.Error()
					continue
				}
				if _, ok := written[cred.Token]; !ok {
					errCh <- cred.Token
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for bad := range errCh {
		t.Fatalf("observed value that was never written: %q", bad)
	}

	cred, err := s.Get()
	if err != nil {
		t.Fatalf("final get: %v", err)
	}
	if _, ok := written[cred.Token]; !ok {
		t.Fatalf("final token %q was never written", cred.Token)
	}
}
