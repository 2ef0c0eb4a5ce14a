package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coachpo/oddstream/internal/schema"
)

type flakySource struct {
	failures int
	calls    int
	page     schema.MarketsPage
}

func (s *flakySource) FetchAllMarkets(_ context.Context, _ string) (schema.MarketsPage, error) {
	s.calls++
	if s.calls <= s.failures {
		return schema.MarketsPage{}, errors.New("venue unavailable")
	}
	return s.page, nil
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestSeedRetriesTransientFailures(t *testing.T) {
	store := NewStore()
	source := &flakySource{failures: 2, page: discoveryPage()}
	resolver := &mapResolver{fixtures: map[string]int64{"ev-1": 42}}

	var published *Catalog
	r := NewRefresher(store, source, staticToken("tok"), resolver, time.Hour, 3)
	r.OnPublish(func(c *Catalog) { published = c })

	if err := r.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if source.calls != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", source.calls)
	}
	if store.Current().Size() != 5 {
		t.Fatalf("expected published snapshot, size=%d", store.Current().Size())
	}
	if published == nil || published != store.Current() {
		t.Fatal("publish hook should observe the stored snapshot")
	}
}

func TestSeedGivesUpAfterRetryBudget(t *testing.T) {
	store := NewStore()
	source := &flakySource{failures: 10}
	r := NewRefresher(store, source, staticToken("tok"), &mapResolver{}, time.Hour, 3)

	if err := r.Seed(context.Background()); err == nil {
		t.Fatal("expected seed to fail")
	}
	if source.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", source.calls)
	}
	if store.Current().Size() != 0 {
		t.Fatal("failed seed must not publish")
	}
}

func TestRunPublishesOnInterval(t *testing.T) {
	store := NewStore()
	source := &flakySource{page: discoveryPage()}
	resolver := &mapResolver{fixtures: map[string]int64{"ev-1": 42}}
	r := NewRefresher(store, source, staticToken("tok"), resolver, 10*time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.Current().Size() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for refresh publish")
		case <-time.After(5 * time.Millisecond):
		}
	}
	first := store.Current().Generation()
	if first == 0 {
		t.Fatal("expected a non-zero generation")
	}

	cancel()
	<-done
}
