package catalog

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/oddstream/internal/observability"
	"github.com/coachpo/oddstream/internal/schema"
)

// MarketSource fetches the complete filtered market listing.
type MarketSource interface {
	FetchAllMarkets(ctx context.Context, accessToken string) (schema.MarketsPage, error)
}

// AccessTokens exposes the current venue access token.
type AccessTokens interface {
	Token() string
}

// Refresher periodically rebuilds the catalog snapshot and publishes it.
type Refresher struct {
	store    *Store
	source   MarketSource
	tokens   AccessTokens
	resolver FixtureResolver
	interval time.Duration
	retries  int

	generation uint64
	onPublish  func(*Catalog)
}

// NewRefresher wires a refresher over the given market source and store.
func NewRefresher(store *Store, source MarketSource, tokens AccessTokens, resolver FixtureResolver, interval time.Duration, retries int) *Refresher {
	if interval <= 0 {
		interval = time.Hour
	}
	if retries <= 0 {
		retries = 3
	}
	return &Refresher{
		store:    store,
		source:   source,
		tokens:   tokens,
		resolver: resolver,
		interval: interval,
		retries:  retries,
	}
}

// OnPublish registers a hook invoked with every published snapshot. Call
// before Seed or Run.
func (r *Refresher) OnPublish(hook func(*Catalog)) {
	r.onPublish = hook
}

// Seed performs the initial discovery sweep, retrying transient failures with
// exponential backoff before giving up.
func (r *Refresher) Seed(ctx context.Context) error {
	snapshot, err := backoff.Retry(ctx, func() (*Catalog, error) {
		return r.build(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(r.retries)))
	if err != nil {
		return err
	}
	r.publish(snapshot)
	return nil
}

// Run rebuilds the snapshot on the configured interval until the context ends.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := r.build(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Keep serving the previous snapshot on refresh failure.
				observability.Log().Error("catalog refresh failed",
					observability.Field{Key: "error", Value: err.Error()})
				continue
			}
			r.publish(snapshot)
		}
	}
}

func (r *Refresher) build(ctx context.Context) (*Catalog, error) {
	page, err := r.source.FetchAllMarkets(ctx, r.tokens.Token())
	if err != nil {
		return nil, err
	}
	r.generation++
	return Build(ctx, r.generation, page, r.resolver)
}

func (r *Refresher) publish(snapshot *Catalog) {
	r.store.Publish(snapshot)
	if r.onPublish != nil {
		r.onPublish(snapshot)
	}
}
