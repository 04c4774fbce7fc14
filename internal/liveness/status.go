// Package liveness decides whether a canonical record's posting URL is
// still live.
//
// Status graph:
//
//	active ─┬─► 404 | 410 | soft_404        (terminal, never rechecked)
//	        ├─► blocked ─► unverifiable | active | soft_404
//	        ├─► redirect
//	        └─► error                        (transient, rechecked next cycle)
//
// Any non-terminal status may move to any other status on the next check.
package liveness

import (
	"errors"
	"fmt"

	"github.com/amishk599/jobpipe/internal/model"
)

// ErrTerminal is returned when a transition out of a dead state is attempted.
var ErrTerminal = errors.New("url status is terminal")

var knownStatuses = map[model.URLStatus]bool{
	model.URLActive:       true,
	model.URLNotFound:     true,
	model.URLGone:         true,
	model.URLSoft404:      true,
	model.URLBlocked:      true,
	model.URLUnverifiable: true,
	model.URLError:        true,
	model.URLRedirect:     true,
}

// ParseStatus converts a raw string to a URLStatus.
func ParseStatus(s string) (model.URLStatus, error) {
	st := model.URLStatus(s)
	if !knownStatuses[st] {
		return "", fmt.Errorf("unknown url status %q", s)
	}
	return st, nil
}

// Transition returns the status a record moves to after a check observed
// next. Terminal states never change.
func Transition(from, next model.URLStatus) (model.URLStatus, error) {
	if from.IsTerminal() {
		if from == next {
			return from, nil
		}
		return from, fmt.Errorf("%w: %s -> %s", ErrTerminal, from, next)
	}
	if !knownStatuses[next] {
		return from, fmt.Errorf("unknown url status %q", next)
	}
	return next, nil
}

// IsClosed reports whether a posting counts as closed for time-open
// analytics. 404, 410 and soft_404 are all closed; statuses that could not
// disprove liveness count as open.
func IsClosed(s model.URLStatus) bool {
	return s.IsTerminal()
}
