package venue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coachpo/oddstream/config"
	"github.com/coachpo/oddstream/errs"
)

func venueSettings(baseURL string, pageSize int) config.VenueSettings {
	cfg := config.Default().Venue
	cfg.RESTBaseURL = baseURL
	cfg.MarketPageSize = pageSize
	cfg.Credentials = config.Credentials{AppID: "app-1", APIKey: "key-1"}
	return cfg
}

func TestAuthenticatePostsCredentials(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sessions":[{
			"accessToken":"acc-1",
			"refreshToken":"ref-1",
			"accessExpiresAt":"2026-03-01T13:00:00Z",
			"refreshExpiresAt":"2026-03-02T12:00:00Z"
		}]}`)
	}))
	defer srv.Close()

	c := NewRESTClient(venueSettings(srv.URL, 2000), nil, srv.Client())
	sess, err := c.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sess.AccessToken != "acc-1" || sess.RefreshToken != "ref-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	want := time.Date(2026, time.March, 1, 13, 0, 0, 0, time.UTC)
	if !sess.AccessExpiresAt.Equal(want) {
		t.Fatalf("unexpected access expiry: %s", sess.AccessExpiresAt)
	}
	for _, field := range []string{`"appId":"app-1"`, `"apiKey":"key-1"`} {
		if !strings.Contains(gotBody, field) {
			t.Errorf("request body %q missing %s", gotBody, field)
		}
	}
}

func TestAuthenticateRejectsEmptySessionList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sessions":[]}`)
	}))
	defer srv.Close()

	c := NewRESTClient(venueSettings(srv.URL, 2000), nil, srv.Client())
	if _, err := c.Authenticate(context.Background()); errs.CodeOf(err) != errs.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestRefreshPostsRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/refresh" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"sessions":[{
			"accessToken":"acc-2",
			"refreshToken":"ref-2",
			"accessExpiresAt":"2026-03-01T14:00:00Z",
			"refreshExpiresAt":"2026-03-02T12:00:00Z"
		}]}`)
	}))
	defer srv.Close()

	c := NewRESTClient(venueSettings(srv.URL, 2000), nil, srv.Client())
	sess, err := c.Refresh(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if sess.AccessToken != "acc-2" {
		t.Fatalf("unexpected token: %s", sess.AccessToken)
	}
}

func TestFetchMarketsPageSendsFiltersAndBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("size") != "2000" || q.Get("page") != "3" {
			t.Errorf("unexpected paging params: %v", q)
		}
		if q.Get("marketTypeIds") != discoveryMarketTypes {
			t.Errorf("marketTypeIds = %q", q.Get("marketTypeIds"))
		}
		if q.Get("inPlayStatuses") != discoveryInPlayStatuses || q.Get("statuses") != discoveryStatuses {
			t.Errorf("unexpected status filters: %v", q)
		}
		fmt.Fprint(w, `{"markets":[{"id":"mk-1","name":"Full Time Result"}],"events":[]}`)
	}))
	defer srv.Close()

	c := NewRESTClient(venueSettings(srv.URL, 2000), nil, srv.Client())
	page, err := c.FetchMarketsPage(context.Background(), "tok", 3)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if len(page.Markets) != 1 || page.Markets[0].ID != "mk-1" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestFetchMarketsPageUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewRESTClient(venueSettings(srv.URL, 2000), nil, srv.Client())
	_, err := c.FetchMarketsPage(context.Background(), "tok", 0)
	if errs.CodeOf(err) != errs.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestFetchAllMarketsStopsOnShortPage(t *testing.T) {
	const pageSize = 2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 0:
			fmt.Fprint(w, `{"markets":[{"id":"mk-1"},{"id":"mk-2"}],"events":[{"id":"ev-1"}]}`)
		case 1:
			fmt.Fprint(w, `{"markets":[{"id":"mk-3"}],"events":[]}`)
		default:
			t.Errorf("unexpected page %d", page)
			fmt.Fprint(w, `{"markets":[]}`)
		}
	}))
	defer srv.Close()

	c := NewRESTClient(venueSettings(srv.URL, pageSize), nil, srv.Client())
	all, err := c.FetchAllMarkets(context.Background(), "tok")
	if err != nil {
		t.Fatalf("fetch all: %v", err)
	}
	if len(all.Markets) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(all.Markets))
	}
	if len(all.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(all.Events))
	}
}
