package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/oddstream/internal/observability"
	"github.com/coachpo/oddstream/internal/ratelimit"
	"github.com/coachpo/oddstream/internal/schema"
)

// StreamState tracks the connection lifecycle of the market stream.
type StreamState int32

const (
	// StateDisconnected means no live connection exists.
	StateDisconnected StreamState = iota
	// StateConnecting means a dial attempt is in flight.
	StateConnecting
	// StateAuthenticating means the connection awaits the auth acknowledgement.
	StateAuthenticating
	// StateSubscribed means subscriptions are registered but no data has arrived.
	StateSubscribed
	// StateStreaming means market updates are flowing.
	StateStreaming
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// TokenSource exposes the current access token and its rotation events.
type TokenSource interface {
	Token() string
	Subscribe() <-chan string
}

// FrameHandler receives each decoded market frame in arrival order.
type FrameHandler func(frame any)

// StreamManager maintains the venue websocket with automatic reconnection,
// in-place re-authentication, and keepalive pings.
type StreamManager struct {
	url              string
	pingInterval     time.Duration
	handshakeTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	conn    *websocket.Conn
	connID  string
	connMu  sync.RWMutex
	writeMu sync.Mutex

	tokens     TokenSource
	subLimiter *ratelimit.SlidingWindow
	handler    FrameHandler
	errorChan  chan<- error

	state       atomic.Int32
	onReconnect func()

	ready     chan struct{}
	readyOnce sync.Once
}

// NewStreamManager builds a stream manager for the given endpoint. Frames are
// delivered to handler; transport errors are reported on errorChan.
func NewStreamManager(ctx context.Context, url string, tokens TokenSource, subLimiter *ratelimit.SlidingWindow, handler FrameHandler, errorChan chan<- error, pingInterval time.Duration) *StreamManager {
	managerCtx, cancel := context.WithCancel(ctx)
	if pingInterval <= 0 {
		pingInterval = 60 * time.Second
	}
	return &StreamManager{
		url:          url,
		pingInterval: pingInterval,
		ctx:          managerCtx,
		cancel:       cancel,
		tokens:       tokens,
		subLimiter:   subLimiter,
		handler:      handler,
		errorChan:    errorChan,
		ready:        make(chan struct{}),
	}
}

// SetHandshakeTimeout overrides the dial timeout. Call before Start.
func (sm *StreamManager) SetHandshakeTimeout(d time.Duration) {
	if d > 0 {
		sm.handshakeTimeout = d
	}
}

// OnReconnect registers a callback fired on every reconnect attempt after a
// failed dial or a dropped session. Call before Start.
func (sm *StreamManager) OnReconnect(fn func()) {
	sm.onReconnect = fn
}

func (sm *StreamManager) noteReconnect() {
	if sm.onReconnect != nil {
		sm.onReconnect()
	}
}

// Start establishes the connection in a background goroutine and waits
// briefly for the initial session to reach the subscribed state. A slow
// handshake is reported but never fatal: the connect loop keeps retrying
// with backoff until Stop.
func (sm *StreamManager) Start() error {
	go func() {
		if err := sm.connect(); err != nil && !errors.Is(err, context.Canceled) {
			sm.reportError(fmt.Errorf("stream connection failed: %w", err))
		}
	}()
	go sm.watchTokenRotation()

	select {
	case <-sm.ready:
	case <-time.After(sm.readyWait()):
		observability.Log().Info("stream not subscribed yet, continuing in background",
			observability.Field{Key: "url", Value: sm.url})
	case <-sm.ctx.Done():
		return fmt.Errorf("stream context done: %w", sm.ctx.Err())
	}
	return nil
}

func (sm *StreamManager) readyWait() time.Duration {
	if sm.handshakeTimeout > 0 {
		return sm.handshakeTimeout
	}
	return 30 * time.Second
}

// Stop closes the connection and cancels the stream context.
func (sm *StreamManager) Stop() {
	sm.cancel()
	sm.connMu.Lock()
	if sm.conn != nil {
		_ = sm.conn.Close(websocket.StatusNormalClosure, "shutdown")
		sm.conn = nil
	}
	sm.connMu.Unlock()
	sm.setState(StateDisconnected)
}

// State reports the current connection lifecycle state.
func (sm *StreamManager) State() StreamState {
	return StreamState(sm.state.Load())
}

// ConnID returns the identifier of the live connection, or empty.
func (sm *StreamManager) ConnID() string {
	sm.connMu.RLock()
	defer sm.connMu.RUnlock()
	return sm.connID
}

// connect maintains the websocket with automatic reconnection and exponential
// backoff capped at one minute.
func (sm *StreamManager) connect() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = time.Minute

	for {
		select {
		case <-sm.ctx.Done():
			return context.Canceled
		default:
		}

		sm.setState(StateConnecting)
		dialCtx, cancel := context.WithTimeout(sm.ctx, sm.dialTimeout())
		conn, _, err := websocket.Dial(dialCtx, sm.url, nil)
		cancel()
		if err != nil {
			sm.setState(StateDisconnected)
			sm.reportError(fmt.Errorf("dial %s: %w", sm.url, err))
			sleep := backoffCfg.NextBackOff()
			select {
			case <-sm.ctx.Done():
				return context.Canceled
			case <-time.After(sleep):
				sm.noteReconnect()
				continue
			}
		}
		conn.SetReadLimit(1 << 22)

		sm.connMu.Lock()
		sm.conn = conn
		sm.connID = uuid.NewString()
		sm.connMu.Unlock()

		backoffCfg.Reset()
		observability.Log().Info("stream connected",
			observability.Field{Key: "conn_id", Value: sm.ConnID()})

		sm.setState(StateAuthenticating)
		if err := sm.sendAuthenticate(sm.tokens.Token()); err != nil {
			sm.reportError(fmt.Errorf("authenticate: %w", err))
		}

		pingCtx, stopPing := context.WithCancel(sm.ctx)
		go sm.pingLoop(pingCtx, conn)

		if err := sm.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				stopPing()
				return context.Canceled
			}
			sm.reportError(fmt.Errorf("read loop: %w", err))
		}
		stopPing()

		sm.connMu.Lock()
		sm.conn = nil
		sm.connID = ""
		sm.connMu.Unlock()
		sm.setState(StateDisconnected)

		sleep := backoffCfg.NextBackOff()
		select {
		case <-sm.ctx.Done():
			return context.Canceled
		case <-time.After(sleep):
			sm.noteReconnect()
		}
	}
}

// readLoop decodes inbound frames, resubscribing once authentication is
// acknowledged and forwarding market updates to the handler.
func (sm *StreamManager) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(sm.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}

		frame, err := schema.DecodeFrame(data)
		if err != nil {
			if errors.Is(err, schema.ErrUnknownFrame) {
				observability.Log().Debug("ignoring unknown frame",
					observability.Field{Key: "error", Value: err.Error()})
				continue
			}
			sm.reportError(fmt.Errorf("decode frame: %w", err))
			continue
		}

		switch frame.(type) {
		case schema.AuthenticationUpdate:
			if sm.State() == StateAuthenticating {
				go func() {
					if err := sm.subscribeAll(); err != nil && !errors.Is(err, context.Canceled) {
						sm.reportError(fmt.Errorf("subscribe: %w", err))
					}
				}()
			}
			continue
		case schema.MarketPriceUpdate, schema.MarketStatusUpdate:
			if sm.State() == StateSubscribed {
				sm.setState(StateStreaming)
			}
		}

		if sm.handler != nil {
			sm.handler(frame)
		}
	}
}

// subscribeAll registers the wildcard price and status subscriptions through
// the subscription rate limiter.
func (sm *StreamManager) subscribeAll() error {
	for _, subscriptionType := range []string{
		schema.SubscriptionMarketPrices,
		schema.SubscriptionMarketStatuses,
	} {
		if sm.subLimiter != nil {
			if err := sm.subLimiter.Wait(sm.ctx); err != nil {
				return err
			}
		}
		if err := sm.writeFrame(schema.NewSubscribeFrame(subscriptionType)); err != nil {
			return err
		}
	}
	sm.setState(StateSubscribed)
	sm.readyOnce.Do(func() { close(sm.ready) })
	observability.Log().Info("stream subscriptions registered",
		observability.Field{Key: "conn_id", Value: sm.ConnID()})
	return nil
}

// watchTokenRotation re-authenticates the live connection whenever the session
// manager rotates the access token. Subscriptions survive in-place re-auth.
func (sm *StreamManager) watchTokenRotation() {
	if sm.tokens == nil {
		return
	}
	rotations := sm.tokens.Subscribe()
	for {
		select {
		case <-sm.ctx.Done():
			return
		case token, ok := <-rotations:
			if !ok {
				return
			}
			if err := sm.sendAuthenticate(token); err != nil {
				sm.reportError(fmt.Errorf("re-authenticate after rotation: %w", err))
				continue
			}
			observability.Log().Info("stream re-authenticated",
				observability.Field{Key: "conn_id", Value: sm.ConnID()})
		}
	}
}

func (sm *StreamManager) sendAuthenticate(token string) error {
	if token == "" {
		return errors.New("no access token available")
	}
	return sm.writeFrame(schema.NewAuthenticateFrame(token))
}

func (sm *StreamManager) writeFrame(frame any) error {
	sm.writeMu.Lock()
	defer sm.writeMu.Unlock()

	sm.connMu.RLock()
	conn := sm.conn
	sm.connMu.RUnlock()
	if conn == nil {
		return errors.New("websocket not connected")
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(sm.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// pingLoop keeps the connection alive during quiet periods.
func (sm *StreamManager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(sm.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				sm.reportError(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (sm *StreamManager) dialTimeout() time.Duration {
	if sm.handshakeTimeout > 0 {
		return sm.handshakeTimeout
	}
	return 10 * time.Second
}

func (sm *StreamManager) setState(state StreamState) {
	sm.state.Store(int32(state))
}

func (sm *StreamManager) reportError(err error) {
	if err == nil || sm.errorChan == nil {
		return
	}
	select {
	case <-sm.ctx.Done():
	case sm.errorChan <- err:
	default:
	}
}
