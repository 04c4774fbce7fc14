package liveness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/amishk599/jobpipe/internal/metrics"
	"github.com/amishk599/jobpipe/internal/model"
)

const maxBodyBytes = 2 << 20

// DefaultSoft404Patterns match pages that answer 200 for a closed job.
var DefaultSoft404Patterns = []string{
	"job is no longer available",
	"position is no longer available",
	"no longer accepting applications",
	"this job has expired",
	"job posting has expired",
	"this position has been filled",
	"this job has been filled",
	"vacancy has now closed",
	"this vacancy is closed",
	"job not found",
	"the job you are looking for",
	"re:(?:job|position|role|vacancy) (?:has been|is) (?:closed|removed)",
}

// DefaultBlockedPatterns match bot-protection interstitials.
var DefaultBlockedPatterns = []string{
	"just a moment...",
	"attention required! | cloudflare",
	"cf-browser-verification",
	"challenge-platform",
	"verify you are human",
	"are you a robot",
	"access denied",
	"request unsuccessful. incapsula",
	"px-captcha",
	"re:\\bcaptcha\\b",
}

// careersIndex matches listing pages a closed job commonly redirects to.
var careersIndex = regexp.MustCompile(`(?i)^(?:[a-z0-9_-]+/)?(?:careers?|jobs?|vacancies|openings|positions)$`)

// Outcome is what one check observed.
type Outcome struct {
	Status    model.URLStatus
	HTTPCode  int
	FinalURL  string
	Detail    string
	Escalated bool
	Err       error // *model.URLCheckTransientError for network failures and timeouts
}

// Checker fetches a URL and maps the response onto a URL status.
type Checker struct {
	client    *http.Client
	userAgent string
	soft404   []*regexp.Regexp
	blocked   []*regexp.Regexp
	browser   BrowserFetcher
	logger    *slog.Logger
}

// CheckerOptions configures a Checker. Empty pattern lists use the defaults.
type CheckerOptions struct {
	UserAgent       string
	Soft404Patterns []string
	BlockedPatterns []string
	Browser         BrowserFetcher // nil leaves blocked URLs as blocked
}

// NewChecker creates a Checker. client must carry its own timeout.
func NewChecker(client *http.Client, opts CheckerOptions, logger *slog.Logger) (*Checker, error) {
	soft := opts.Soft404Patterns
	if len(soft) == 0 {
		soft = DefaultSoft404Patterns
	}
	blocked := opts.BlockedPatterns
	if len(blocked) == 0 {
		blocked = DefaultBlockedPatterns
	}
	softRe, err := compilePatterns(soft)
	if err != nil {
		return nil, fmt.Errorf("soft_404 patterns: %w", err)
	}
	blockedRe, err := compilePatterns(blocked)
	if err != nil {
		return nil, fmt.Errorf("blocked patterns: %w", err)
	}
	return &Checker{
		client:    client,
		userAgent: opts.UserAgent,
		soft404:   softRe,
		blocked:   blockedRe,
		browser:   opts.Browser,
		logger:    logger,
	}, nil
}

// compilePatterns turns literals into case-insensitive regexps; a "re:"
// prefix marks a raw regex.
func compilePatterns(raws []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(raws))
	for _, raw := range raws {
		expr := regexp.QuoteMeta(strings.ToLower(raw))
		if rest, ok := strings.CutPrefix(raw, "re:"); ok {
			expr = rest
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", raw, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Check fetches rawURL once and classifies the response. Blocked responses
// are escalated to the browser when one is configured.
func (c *Checker) Check(ctx context.Context, rawURL string) Outcome {
	out := c.fetch(ctx, rawURL)
	if out.Status == model.URLBlocked && c.browser != nil {
		out = c.escalate(ctx, rawURL, out)
		metrics.URLEscalations.WithLabelValues(string(out.Status)).Inc()
	}
	return out
}

func (c *Checker) fetch(ctx context.Context, rawURL string) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Outcome{Status: model.URLError, Detail: "bad url", Err: &model.URLCheckTransientError{URL: rawURL, Err: err}}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		detail := "network error"
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			detail = "timeout"
		}
		return Outcome{Status: model.URLError, Detail: detail, Err: &model.URLCheckTransientError{URL: rawURL, Err: err}}
	}
	defer resp.Body.Close()

	out := Outcome{HTTPCode: resp.StatusCode, FinalURL: resp.Request.URL.String()}

	switch resp.StatusCode {
	case http.StatusNotFound:
		out.Status = model.URLNotFound
		return out
	case http.StatusGone:
		out.Status = model.URLGone
		return out
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		out.Status = model.URLError
		out.Detail = "read body"
		out.Err = &model.URLCheckTransientError{URL: rawURL, Err: err}
		return out
	}
	text := pageText(body)
	signals := text + " " + strings.ToLower(string(body))

	switch {
	case resp.StatusCode == http.StatusForbidden:
		out.Status = model.URLBlocked
		out.Detail = "403"
		return out
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if p := matchAny(c.blocked, signals); p != "" {
			out.Status = model.URLBlocked
			out.Detail = "challenge: " + p
			return out
		}
		out.Status = model.URLError
		out.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		out.Err = &model.URLCheckTransientError{URL: rawURL, Err: &model.HTTPError{StatusCode: resp.StatusCode}}
		return out
	case resp.StatusCode >= 400:
		out.Status = model.URLError
		out.Detail = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return out
	}

	if p := matchAny(c.blocked, text); p != "" {
		out.Status = model.URLBlocked
		out.Detail = "challenge: " + p
		return out
	}
	if p := matchAny(c.soft404, text); p != "" {
		out.Status = model.URLSoft404
		out.Detail = p
		return out
	}
	if isClosedRedirect(req.URL, resp.Request.URL) {
		out.Status = model.URLRedirect
		out.Detail = "redirected to " + resp.Request.URL.String()
		return out
	}
	out.Status = model.URLActive
	return out
}

// escalate retries a blocked URL in the browser. Anything short of real
// content is unverifiable, which keeps the record in the feed.
func (c *Checker) escalate(ctx context.Context, rawURL string, first Outcome) Outcome {
	out := Outcome{HTTPCode: first.HTTPCode, FinalURL: first.FinalURL, Escalated: true}

	html, err := c.browser.Fetch(ctx, rawURL)
	if err != nil {
		c.logger.Debug("browser escalation failed", "url", rawURL, "error", err)
		out.Status = model.URLUnverifiable
		out.Detail = "browser: " + err.Error()
		return out
	}

	text := pageText([]byte(html))
	if p := matchAny(c.blocked, text); p != "" {
		out.Status = model.URLUnverifiable
		out.Detail = "browser still blocked: " + p
		return out
	}
	if p := matchAny(c.soft404, text); p != "" {
		out.Status = model.URLSoft404
		out.Detail = p
		return out
	}
	out.Status = model.URLActive
	out.Detail = "browser"
	return out
}

// pageText returns the visible text and title of an HTML page, lowercased.
func pageText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return strings.ToLower(string(body))
	}
	doc.Find("script, style, noscript").Remove()
	title := doc.Find("title").First().Text()
	text := title + " " + doc.Find("body").Text()
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

func matchAny(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if loc := re.FindString(text); loc != "" {
			return loc
		}
	}
	return ""
}

// isClosedRedirect reports whether following redirects took us off the
// posting: to another site, or up to a careers index page.
func isClosedRedirect(from, to *url.URL) bool {
	if from.String() == to.String() {
		return false
	}
	if baseDomain(from.Hostname()) != baseDomain(to.Hostname()) {
		return true
	}
	if to.Query().Get("error") == "true" {
		return true
	}
	fp, tp := strings.Trim(from.Path, "/"), strings.Trim(to.Path, "/")
	if fp == tp {
		return false
	}
	if tp == "" || strings.HasPrefix(fp, tp+"/") {
		return true
	}
	return careersIndex.MatchString(tp)
}

// baseDomain keeps the last two labels, so jobs.acme.com and acme.com match.
func baseDomain(host string) string {
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
