package model

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("120"); got != 120*time.Second {
		t.Errorf("seconds: got %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("empty: got %v", got)
	}
	if got := ParseRetryAfter("soon"); got != 0 {
		t.Errorf("garbage: got %v", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > time.Minute {
		t.Errorf("http date: got %v", got)
	}
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	cause := errors.New("boom")
	for _, err := range []error{
		&HTTPError{StatusCode: 500, Err: cause},
		&MalformedSourcePayloadError{Source: SourceATSA, Reason: "missing title", Err: cause},
		&FilterConfigurationError{Reason: "empty", Err: cause},
		&ClassificationFailure{JobHash: "h", Attempts: 3, Err: cause},
		&URLCheckTransientError{URL: "https://x", Err: cause},
	} {
		if !errors.Is(err, cause) {
			t.Errorf("%T does not unwrap to its cause", err)
		}
	}
}

func TestURLStatusTerminal(t *testing.T) {
	for _, s := range TerminalURLStatuses {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []URLStatus{URLActive, URLBlocked, URLUnverifiable, URLError, URLRedirect} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
