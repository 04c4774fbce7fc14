package liveness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/amishk599/jobpipe/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBrowser struct {
	html  string
	err   error
	calls int
}

func (b *fakeBrowser) Fetch(_ context.Context, _ string) (string, error) {
	b.calls++
	return b.html, b.err
}

func newTestChecker(t *testing.T, browser BrowserFetcher) *Checker {
	t.Helper()
	c, err := NewChecker(&http.Client{Timeout: 200 * time.Millisecond}, CheckerOptions{
		UserAgent: "jobpipe-test",
		Browser:   browser,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	return c
}

const livePage = `<html><head><title>Senior Data Engineer - Acme</title></head>
<body><h1>Senior Data Engineer</h1><p>Join our platform team.</p><a href="/apply">Apply</a></body></html>`

const closedPage = `<html><body><div class="notice">Sorry, this job is no longer available.</div></body></html>`

const challengePage = `<html><head><title>Just a moment...</title></head>
<body><div id="cf-browser-verification">Checking your browser</div></body></html>`

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func respond(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(code)
		io.WriteString(w, body)
	}
}

func TestCheck_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		want    model.URLStatus
		wantErr bool
	}{
		{"live page", http.StatusOK, livePage, model.URLActive, false},
		{"not found", http.StatusNotFound, "", model.URLNotFound, false},
		{"gone", http.StatusGone, "", model.URLGone, false},
		{"soft 404", http.StatusOK, closedPage, model.URLSoft404, false},
		{"forbidden", http.StatusForbidden, "<html><body>Forbidden</body></html>", model.URLBlocked, false},
		{"challenge on 503", http.StatusServiceUnavailable, challengePage, model.URLBlocked, false},
		{"challenge on 200", http.StatusOK, challengePage, model.URLBlocked, false},
		{"plain 503", http.StatusServiceUnavailable, "upstream down", model.URLError, true},
		{"plain 429", http.StatusTooManyRequests, "slow down", model.URLError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, respond(tt.code, tt.body))
			out := newTestChecker(t, nil).Check(context.Background(), srv.URL+"/jobs/123")

			if out.Status != tt.want {
				t.Errorf("Status = %q, want %q (detail %q)", out.Status, tt.want, out.Detail)
			}
			var terr *model.URLCheckTransientError
			if got := errors.As(out.Err, &terr); got != tt.wantErr {
				t.Errorf("transient error = %v, want %v", out.Err, tt.wantErr)
			}
		})
	}
}

func TestCheck_TimeoutIsErrorNotDead(t *testing.T) {
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	out := newTestChecker(t, nil).Check(context.Background(), srv.URL+"/jobs/1")
	if out.Status != model.URLError {
		t.Fatalf("Status = %q, want error", out.Status)
	}
	if out.Detail != "timeout" {
		t.Errorf("Detail = %q, want timeout", out.Detail)
	}
	var terr *model.URLCheckTransientError
	if !errors.As(out.Err, &terr) {
		t.Errorf("Err = %v, want URLCheckTransientError", out.Err)
	}
}

func TestCheck_SendsUserAgent(t *testing.T) {
	var got string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		io.WriteString(w, livePage)
	})
	newTestChecker(t, nil).Check(context.Background(), srv.URL)
	if got != "jobpipe-test" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestCheck_RedirectToCareersIndex(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/acme/jobs/123", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/acme/careers", http.StatusFound)
	})
	mux.HandleFunc("/acme/careers", respond(http.StatusOK, livePage))
	srv := serve(t, mux.ServeHTTP)

	out := newTestChecker(t, nil).Check(context.Background(), srv.URL+"/acme/jobs/123")
	if out.Status != model.URLRedirect {
		t.Fatalf("Status = %q, want redirect (detail %q)", out.Status, out.Detail)
	}
}

func TestCheck_BlockedEscalation(t *testing.T) {
	tests := []struct {
		name    string
		browser *fakeBrowser
		want    model.URLStatus
	}{
		{"browser sees real content", &fakeBrowser{html: livePage}, model.URLActive},
		{"browser sees closed notice", &fakeBrowser{html: closedPage}, model.URLSoft404},
		{"browser still challenged", &fakeBrowser{html: challengePage}, model.URLUnverifiable},
		{"browser fails", &fakeBrowser{err: errors.New("chrome not found")}, model.URLUnverifiable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, respond(http.StatusForbidden, challengePage))
			out := newTestChecker(t, tt.browser).Check(context.Background(), srv.URL+"/jobs/9")

			if out.Status != tt.want {
				t.Errorf("Status = %q, want %q (detail %q)", out.Status, tt.want, out.Detail)
			}
			if !out.Escalated || tt.browser.calls != 1 {
				t.Errorf("escalated = %v, browser calls = %d", out.Escalated, tt.browser.calls)
			}
		})
	}
}

func TestCheck_NotFoundNeverEscalates(t *testing.T) {
	browser := &fakeBrowser{html: livePage}
	srv := serve(t, respond(http.StatusNotFound, ""))
	out := newTestChecker(t, browser).Check(context.Background(), srv.URL)
	if out.Status != model.URLNotFound || browser.calls != 0 {
		t.Errorf("Status = %q, browser calls = %d", out.Status, browser.calls)
	}
}

func TestIsClosedRedirect(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{"https://boards.greenhouse.io/acme/jobs/1", "https://boards.greenhouse.io/acme/jobs/1", false},
		{"http://jobs.acme.com/roles/1", "https://jobs.acme.com/roles/1/", false},
		{"https://boards.greenhouse.io/acme/jobs/1", "https://job-boards.greenhouse.io/acme/jobs/1", false},
		{"https://boards.greenhouse.io/acme/jobs/1", "https://boards.greenhouse.io/acme?error=true", true},
		{"https://jobs.lever.co/acme/abc", "https://jobs.lever.co/acme", true},
		{"https://acme.com/jobs/data-engineer-1", "https://acme.com/careers", true},
		{"https://acme.com/jobs/1", "https://www.indeed.com/", true},
		{"https://acme.com/jobs/1", "https://acme.com/jobs/1-data-engineer", false},
	}
	for _, tt := range tests {
		from, _ := url.Parse(tt.from)
		to, _ := url.Parse(tt.to)
		if got := isClosedRedirect(from, to); got != tt.want {
			t.Errorf("isClosedRedirect(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNewChecker_BadPattern(t *testing.T) {
	_, err := NewChecker(http.DefaultClient, CheckerOptions{Soft404Patterns: []string{"re:("}}, discardLogger())
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}
