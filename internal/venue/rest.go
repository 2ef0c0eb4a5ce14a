// Package venue implements the Monaco REST and stream transports.
package venue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/coachpo/oddstream/config"
	"github.com/coachpo/oddstream/errs"
	"github.com/coachpo/oddstream/internal/observability"
	"github.com/coachpo/oddstream/internal/ratelimit"
	"github.com/coachpo/oddstream/internal/schema"
	"github.com/coachpo/oddstream/internal/session"
)

// Venue is the identifier attached to errors raised by this transport.
const Venue = "monaco"

// Discovery query values sent on every markets request.
var (
	discoveryMarketTypes = strings.Join([]string{
		schema.MarketTypeOverUnder,
		schema.MarketTypeHandicap,
		schema.MarketTypeFullTimeResult,
	}, ",")
	discoveryInPlayStatuses = strings.Join([]string{
		schema.InPlayPrePlay,
		schema.InPlayNotApplicable,
	}, ",")
	discoveryStatuses = strings.Join([]string{
		schema.StatusInitializing,
		schema.StatusOpen,
		schema.StatusLocked,
		schema.StatusClosed,
	}, ",")
)

// RESTClient talks to the venue REST API through the shared rate limiter.
type RESTClient struct {
	baseURL  string
	creds    config.Credentials
	pageSize int
	http     *http.Client
	limiter  *ratelimit.SlidingWindow
}

// NewRESTClient builds a REST client for the configured venue endpoints.
func NewRESTClient(cfg config.VenueSettings, limiter *ratelimit.SlidingWindow, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pageSize := cfg.MarketPageSize
	if pageSize <= 0 {
		pageSize = 2000
	}
	return &RESTClient{
		baseURL:  strings.TrimRight(cfg.RESTBaseURL, "/"),
		creds:    cfg.Credentials,
		pageSize: pageSize,
		http:     httpClient,
		limiter:  limiter,
	}
}

type sessionPayload struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	AccessExpiresAt  string `json:"accessExpiresAt"`
	RefreshExpiresAt string `json:"refreshExpiresAt"`
}

type sessionResponse struct {
	Sessions []sessionPayload `json:"sessions"`
}

// Authenticate opens a new venue session with the application credentials.
func (c *RESTClient) Authenticate(ctx context.Context) (session.Session, error) {
	body := map[string]string{
		"appId":  c.creds.AppID,
		"apiKey": c.creds.APIKey,
	}
	return c.postSession(ctx, "/sessions", body)
}

// Refresh exchanges a refresh token for a new session.
func (c *RESTClient) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	body := map[string]string{"refreshToken": refreshToken}
	return c.postSession(ctx, "/sessions/refresh", body)
}

func (c *RESTClient) postSession(ctx context.Context, path string, body map[string]string) (session.Session, error) {
	if err := c.wait(ctx); err != nil {
		return session.Session{}, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return session.Session{}, fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return session.Session{}, fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return session.Session{}, errs.New(Venue, errs.CodeNetwork,
			errs.WithMessage("session request failed"),
			errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return session.Session{}, c.statusError(resp, errs.CodeAuth, errs.CanonicalSessionExpired)
	}

	var decoded sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return session.Session{}, errs.New(Venue, errs.CodeVenue,
			errs.WithMessage("decode session response"),
			errs.WithCause(err))
	}
	if len(decoded.Sessions) == 0 {
		return session.Session{}, errs.New(Venue, errs.CodeAuth,
			errs.WithMessage("no session returned"))
	}
	return toSession(decoded.Sessions[0])
}

func toSession(p sessionPayload) (session.Session, error) {
	accessExpires, err := time.Parse(time.RFC3339, p.AccessExpiresAt)
	if err != nil {
		return session.Session{}, errs.New(Venue, errs.CodeVenue,
			errs.WithMessage("parse access expiry"),
			errs.WithCause(err))
	}
	refreshExpires, err := time.Parse(time.RFC3339, p.RefreshExpiresAt)
	if err != nil {
		return session.Session{}, errs.New(Venue, errs.CodeVenue,
			errs.WithMessage("parse refresh expiry"),
			errs.WithCause(err))
	}
	return session.Session{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  accessExpires,
		RefreshExpiresAt: refreshExpires,
	}, nil
}

// FetchMarketsPage retrieves one page of the filtered market listing.
func (c *RESTClient) FetchMarketsPage(ctx context.Context, accessToken string, page int) (schema.MarketsPage, error) {
	if err := c.wait(ctx); err != nil {
		return schema.MarketsPage{}, err
	}

	query := url.Values{}
	query.Set("marketTypeIds", discoveryMarketTypes)
	query.Set("inPlayStatuses", discoveryInPlayStatuses)
	query.Set("statuses", discoveryStatuses)
	query.Set("size", strconv.Itoa(c.pageSize))
	query.Set("page", strconv.Itoa(page))

	endpoint := c.baseURL + "/markets?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return schema.MarketsPage{}, fmt.Errorf("build markets request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return schema.MarketsPage{}, errs.New(Venue, errs.CodeNetwork,
			errs.WithMessage("markets request failed"),
			errs.WithCause(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return schema.MarketsPage{}, c.statusError(resp, errs.CodeAuth, errs.CanonicalSessionExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return schema.MarketsPage{}, c.statusError(resp, errs.CodeVenue, errs.CanonicalUnknown)
	}

	var decoded schema.MarketsPage
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return schema.MarketsPage{}, errs.New(Venue, errs.CodeVenue,
			errs.WithMessage("decode markets response"),
			errs.WithCause(err))
	}
	return decoded, nil
}

// FetchAllMarkets walks the paginated market listing until a short page.
func (c *RESTClient) FetchAllMarkets(ctx context.Context, accessToken string) (schema.MarketsPage, error) {
	var all schema.MarketsPage
	for page := 0; ; page++ {
		current, err := c.FetchMarketsPage(ctx, accessToken, page)
		if err != nil {
			return schema.MarketsPage{}, err
		}
		all.Markets = append(all.Markets, current.Markets...)
		all.Events = append(all.Events, current.Events...)

		if len(current.Markets) < c.pageSize {
			break
		}
		observability.Log().Debug("fetched markets page",
			observability.Field{Key: "page", Value: page},
			observability.Field{Key: "markets", Value: len(all.Markets)})
	}
	return all, nil
}

func (c *RESTClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *RESTClient) statusError(resp *http.Response, code errs.Code, canonical errs.CanonicalCode) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return errs.New(Venue, code,
		errs.WithHTTP(resp.StatusCode),
		errs.WithCanonicalCode(canonical),
		errs.WithRawMessage(strings.TrimSpace(string(raw))))
}
