// Package session maintains the venue access token lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/oddstream/errs"
	"github.com/coachpo/oddstream/internal/observability"
)

// Session captures the credential pair issued by the venue.
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Authenticator opens and refreshes venue sessions.
type Authenticator interface {
	Authenticate(ctx context.Context) (Session, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// Manager holds the current session and renews it ahead of expiry. Consumers
// read tokens through a snapshot and may subscribe to rotation events.
type Manager struct {
	auth   Authenticator
	margin time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	session Session
	subs    []chan string

	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewManager builds a session manager renewing margin ahead of access expiry.
func NewManager(auth Authenticator, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = 2 * time.Minute
	}
	return &Manager{
		auth:   auth,
		margin: margin,
		now:    time.Now,
	}
}

// Start performs the initial authentication and launches the renewal loop.
func (m *Manager) Start(ctx context.Context) error {
	sess, err := m.auth.Authenticate(ctx)
	if err != nil {
		return errs.New("monaco", errs.CodeAuth,
			errs.WithMessage("initial authentication failed"),
			errs.WithCause(err))
	}
	m.store(sess)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})
	go m.run(runCtx)
	return nil
}

// Stop halts the renewal loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.stopped
}

// Token returns the current access token.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.AccessToken
}

// Current returns a snapshot of the active session.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Subscribe returns a channel receiving each rotated access token. The
// channel holds the latest token only; a slow reader observes the newest.
func (m *Manager) Subscribe() <-chan string {
	ch := make(chan string, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.stopped)
	for {
		wait := m.untilRenewal()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		sess, err := m.renew(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			observability.Log().Error("session renewal failed",
				observability.Field{Key: "error", Value: err.Error()})
			continue
		}
		m.store(sess)
		m.broadcast(sess.AccessToken)
		observability.Log().Info("session renewed",
			observability.Field{Key: "access_expires_at", Value: sess.AccessExpiresAt})
	}
}

func (m *Manager) untilRenewal() time.Duration {
	m.mu.RLock()
	expires := m.session.AccessExpiresAt
	m.mu.RUnlock()

	wait := expires.Add(-m.margin).Sub(m.now())
	if wait < 0 {
		// Already inside the renewal margin, refresh at once. renew's own
		// backoff prevents a tight loop on repeated failure.
		wait = 0
	}
	return wait
}

// renew prefers the refresh grant and falls back to full authentication when
// the refresh token is rejected or expired. Attempts are retried with
// exponential backoff until the context ends.
func (m *Manager) renew(ctx context.Context) (Session, error) {
	return backoff.Retry(ctx, func() (Session, error) {
		current := m.Current()
		if current.RefreshToken != "" && m.now().Before(current.RefreshExpiresAt) {
			sess, err := m.auth.Refresh(ctx, current.RefreshToken)
			if err == nil {
				return sess, nil
			}
			observability.Log().Debug("refresh grant failed, falling back to authenticate",
				observability.Field{Key: "error", Value: err.Error()})
		}
		return m.auth.Authenticate(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(5*time.Minute))
}

func (m *Manager) store(sess Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
}

func (m *Manager) broadcast(token string) {
	m.mu.RLock()
	subs := make([]chan string, len(m.subs))
	copy(subs, m.subs)
	m.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- token:
		default:
			// Drop the stale token so the latest wins.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- token:
			default:
			}
		}
	}
}
