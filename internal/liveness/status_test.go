package liveness

import (
	"errors"
	"testing"

	"github.com/amishk599/jobpipe/internal/model"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from, next model.URLStatus
		want       model.URLStatus
		terminal   bool
	}{
		{model.URLActive, model.URLNotFound, model.URLNotFound, false},
		{model.URLActive, model.URLSoft404, model.URLSoft404, false},
		{model.URLError, model.URLActive, model.URLActive, false},
		{model.URLUnverifiable, model.URLActive, model.URLActive, false},
		{model.URLBlocked, model.URLUnverifiable, model.URLUnverifiable, false},
		{model.URLRedirect, model.URLGone, model.URLGone, false},
		{model.URLNotFound, model.URLNotFound, model.URLNotFound, false},
		{model.URLNotFound, model.URLActive, model.URLNotFound, true},
		{model.URLGone, model.URLError, model.URLGone, true},
		{model.URLSoft404, model.URLActive, model.URLSoft404, true},
	}
	for _, tt := range tests {
		got, err := Transition(tt.from, tt.next)
		if got != tt.want {
			t.Errorf("Transition(%s, %s) = %s, want %s", tt.from, tt.next, got, tt.want)
		}
		if errors.Is(err, ErrTerminal) != tt.terminal {
			t.Errorf("Transition(%s, %s) err = %v, terminal want %v", tt.from, tt.next, err, tt.terminal)
		}
	}

	if _, err := Transition(model.URLActive, "maybe"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestIsClosed(t *testing.T) {
	closed := []model.URLStatus{model.URLNotFound, model.URLGone, model.URLSoft404}
	open := []model.URLStatus{model.URLActive, model.URLBlocked, model.URLUnverifiable, model.URLError, model.URLRedirect}
	for _, s := range closed {
		if !IsClosed(s) {
			t.Errorf("IsClosed(%s) = false", s)
		}
	}
	for _, s := range open {
		if IsClosed(s) {
			t.Errorf("IsClosed(%s) = true", s)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("soft_404"); err != nil || s != model.URLSoft404 {
		t.Errorf("ParseStatus(soft_404) = %q, %v", s, err)
	}
	if _, err := ParseStatus("dead"); err == nil {
		t.Error("expected error for unknown status")
	}
}
