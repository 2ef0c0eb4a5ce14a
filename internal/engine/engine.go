// Package engine wires session, discovery, stream, and persistence into the
// running ingestion pipeline.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/oddstream/config"
	"github.com/coachpo/oddstream/internal/batch"
	"github.com/coachpo/oddstream/internal/catalog"
	"github.com/coachpo/oddstream/internal/observability"
	"github.com/coachpo/oddstream/internal/orderbook"
	"github.com/coachpo/oddstream/internal/persistence"
	"github.com/coachpo/oddstream/internal/ratelimit"
	"github.com/coachpo/oddstream/internal/schema"
	"github.com/coachpo/oddstream/internal/sequencer"
	"github.com/coachpo/oddstream/internal/session"
	"github.com/coachpo/oddstream/internal/telemetry"
	"github.com/coachpo/oddstream/internal/venue"
)

// Engine owns the full venue ingestion pipeline: authenticated discovery
// sweeps build the market catalog, stream deltas maintain per-fixture order
// books, and a per-fixture sequencer persists best-price samples.
type Engine struct {
	cfg config.Settings

	rest     *venue.RESTClient
	session  *session.Manager
	stream   *venue.StreamManager
	queue    *batch.Queue
	seq      *sequencer.Sequencer
	books    *orderbook.Books
	catalogs *catalog.Store
	refresh  *catalog.Refresher
	writer   *persistence.Writer
	metrics  *telemetry.Metrics

	errorChan   chan error
	unmappedLog rate.Sometimes
	lifecycle   conc.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles an engine from settings, a persistence store, and a fixture
// resolver. Metrics may be nil when telemetry is disabled.
func New(cfg config.Settings, store persistence.Store, resolver catalog.FixtureResolver, metrics *telemetry.Metrics) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	restLimiter := ratelimit.NewSlidingWindow(cfg.Venue.RESTBurst, cfg.Venue.RESTInterval, nil, nil)
	subLimiter := ratelimit.NewSlidingWindow(cfg.Venue.SubscribeBurst, cfg.Venue.SubscribeInterval, nil, nil)

	rest := venue.NewRESTClient(cfg.Venue, restLimiter, nil)
	sess := session.NewManager(rest, cfg.Session.RefreshMargin)

	e := &Engine{
		cfg:         cfg,
		rest:        rest,
		session:     sess,
		seq:         sequencer.New(cfg.Sequencer.IdleTimeout, cfg.Sequencer.QueueDepth),
		books:       orderbook.New(),
		catalogs:    catalog.NewStore(),
		writer:      persistence.NewWriter(store),
		metrics:     metrics,
		errorChan:   make(chan error, 16),
		unmappedLog: rate.Sometimes{Interval: 30 * time.Second},
		ctx:         ctx,
		cancel:      cancel,
	}
	e.queue = batch.NewQueue(cfg.Batch.Debounce, cfg.Batch.MaxSize, e.flush)

	e.refresh = catalog.NewRefresher(e.catalogs, rest, sess, resolver,
		cfg.Catalog.RefreshInterval, cfg.Catalog.InitialRetries)
	e.refresh.OnPublish(e.onCatalogPublish)

	e.stream = venue.NewStreamManager(ctx, cfg.Venue.StreamURL, sess, subLimiter,
		e.handleFrame, e.errorChan, cfg.Venue.PingInterval)
	e.stream.SetHandshakeTimeout(cfg.Venue.HandshakeTimeout)
	e.stream.OnReconnect(func() { e.metrics.RecordReconnect(e.ctx, venue.Venue) })

	return e
}

// Start authenticates, seeds the catalog, and opens the stream. It returns
// once the pipeline is live; Run or ctx cancellation drives the rest.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.session.Start(ctx); err != nil {
		return fmt.Errorf("engine: start session: %w", err)
	}
	if err := e.refresh.Seed(ctx); err != nil {
		return fmt.Errorf("engine: seed catalog: %w", err)
	}
	e.lifecycle.Go(func() { e.refresh.Run(e.ctx) })
	e.lifecycle.Go(e.drainErrors)

	if err := e.stream.Start(); err != nil {
		return fmt.Errorf("engine: start stream: %w", err)
	}
	observability.Log().Info("engine started",
		observability.Field{Key: "venue", Value: venue.Venue},
		observability.Field{Key: "catalog_size", Value: e.catalogs.Current().Size()})
	return nil
}

// Run blocks until ctx is cancelled, then shuts the pipeline down in
// dependency order: stream intake first, buffered work drained, session last.
func (e *Engine) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-e.ctx.Done():
	}
	return e.Shutdown()
}

// Shutdown stops intake and drains in-flight work.
func (e *Engine) Shutdown() error {
	e.stream.Stop()
	e.queue.Close()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var drainErr error
	if err := e.seq.Shutdown(drainCtx); err != nil {
		drainErr = fmt.Errorf("drain writes: %w", err)
	}

	e.session.Stop()
	e.cancel()
	e.lifecycle.Wait()
	if err := observability.AggregateErrors("engine shutdown", drainErr); err != nil {
		return err
	}
	observability.Log().Info("engine stopped")
	return nil
}

func (e *Engine) drainErrors() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case err := <-e.errorChan:
			observability.Log().Error("stream error",
				observability.Field{Key: "error", Value: err.Error()})
		}
	}
}

// handleFrame routes decoded stream frames onto the debounced batch queue.
// It runs on the stream read loop, so it only filters and enqueues. Frames
// outside the current subscription set are dropped here, before any
// batching or sequencing work is spent on them.
func (e *Engine) handleFrame(frame any) {
	switch f := frame.(type) {
	case schema.MarketPriceUpdate:
		if !e.subscribed(f.EventID, f.MarketID) {
			return
		}
		e.metrics.RecordFrame(e.ctx, venue.Venue, "price")
		e.queue.PushPrice(f)
	case schema.MarketStatusUpdate:
		if !e.subscribed(f.EventID, f.MarketID) {
			return
		}
		e.metrics.RecordFrame(e.ctx, venue.Venue, "status")
		e.queue.PushStatus(f)
	case schema.AuthenticationUpdate:
		e.metrics.RecordFrame(e.ctx, venue.Venue, "auth")
	}
}

func (e *Engine) subscribed(eventID, marketID string) bool {
	if eventID == "" || marketID == "" {
		return false
	}
	return e.catalogs.Current().Subscribed(eventID, marketID)
}

func (e *Engine) flush(b batch.Batch) {
	e.metrics.RecordBatch(e.ctx, b.Len())
	for _, update := range b.Prices {
		e.applyPrice(update)
	}
	for _, update := range b.Statuses {
		e.applyStatus(update)
	}
}

func (e *Engine) applyPrice(update schema.MarketPriceUpdate) {
	snapshot := e.catalogs.Current()
	mapping, ok := snapshot.Lookup(update.EventID, update.MarketID)
	if !ok {
		e.recordUnmapped(update.EventID, update.MarketID)
		return
	}
	if mapping.FixtureID == 0 {
		return
	}

	book := e.books.ApplyDelta(mapping.FixtureID, mapping.Family, mapping.OutcomeSlots, update.Prices)
	e.persistBook(mapping.FixtureID, mapping.Family, book, snapshot.FixtureMappings(mapping.FixtureID))
}

// applyStatus zeroes a market's book when it leaves the tradable window:
// any non-open status, or the fixture going in-play.
func (e *Engine) applyStatus(update schema.MarketStatusUpdate) {
	snapshot := e.catalogs.Current()
	mapping, ok := snapshot.Lookup(update.EventID, update.MarketID)
	if !ok {
		e.recordUnmapped(update.EventID, update.MarketID)
		return
	}
	if mapping.FixtureID == 0 {
		return
	}

	if update.Status == schema.StatusOpen && update.InPlayStatus != schema.InPlayLive {
		return
	}

	book := e.books.Reset(mapping.FixtureID, mapping.Family, mapping.OutcomeSlots)
	e.persistBook(mapping.FixtureID, mapping.Family, book, snapshot.FixtureMappings(mapping.FixtureID))
}

func (e *Engine) persistBook(fixtureID int64, family schema.MarketFamily, book orderbook.Snapshot, mappings []schema.MarketMapping) {
	err := e.seq.Enqueue(fixtureID, func(ctx context.Context) error {
		if err := e.writer.UpdateBestPrices(ctx, fixtureID, family, book, mappings); err != nil {
			e.metrics.RecordWrite(ctx, string(family), "error")
			return err
		}
		e.metrics.RecordWrite(ctx, string(family), "ok")
		return nil
	})
	if err != nil {
		observability.Log().Error("enqueue write",
			observability.Field{Key: "fixture_id", Value: fixtureID},
			observability.Field{Key: "error", Value: err.Error()})
	}
}

// onCatalogPublish reprimes order books and reseeds fixture rows from every
// new catalog snapshot.
func (e *Engine) onCatalogPublish(c *catalog.Catalog) {
	if e.metrics != nil {
		e.metrics.CatalogSize.Record(e.ctx, int64(c.Size()))
	}
	e.books.Clear()
	for _, fixtureID := range c.Fixtures() {
		markets := c.FixtureMarkets(fixtureID)
		e.books.Prime(fixtureID, markets)

		id := fixtureID
		err := e.seq.Enqueue(id, func(ctx context.Context) error {
			return e.writer.EnsureFixtureRecord(ctx, id, markets)
		})
		if err != nil {
			observability.Log().Error("enqueue fixture seed",
				observability.Field{Key: "fixture_id", Value: id},
				observability.Field{Key: "error", Value: err.Error()})
		}
	}
	observability.Log().Info("catalog published",
		observability.Field{Key: "generation", Value: c.Generation()},
		observability.Field{Key: "mappings", Value: c.Size()},
		observability.Field{Key: "fixtures", Value: len(c.Fixtures())})
}

func (e *Engine) recordUnmapped(eventID, marketID string) {
	if e.metrics != nil {
		e.metrics.UnmappedMarkets.Add(e.ctx, 1)
	}
	e.unmappedLog.Do(func() {
		observability.Log().Debug("update for unmapped market",
			observability.Field{Key: "event_id", Value: eventID},
			observability.Field{Key: "market_id", Value: marketID})
	})
}
