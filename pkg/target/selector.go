package target

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Resolve failure sentinels, for callers that map them to distinct
// exit codes.
var (
	ErrNoMatch    = errors.New("no target matched")
	ErrAmbiguous  = errors.New("selector matched multiple targets")
	ErrIndexRange = errors.New("selector index out of range")
)

// Selector addresses one target in a discovery snapshot, either by list
// index or by its ID() string.
type Selector struct {
	Index int
	ID    string

	byIndex bool
}

// ParseSelector accepts "index:<n>", "serial:<port>", "halfkay:<path>",
// bare digits (index) or a bare port name (implies "serial:").
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}, fmt.Errorf("invalid selector: empty")
	}

	if rest, ok := strings.CutPrefix(s, "index:"); ok {
		idx, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || idx < 0 {
			return Selector{}, fmt.Errorf("invalid selector: bad index %q", rest)
		}
		return Selector{Index: idx, byIndex: true}, nil
	}

	if strings.HasPrefix(s, "serial:") || strings.HasPrefix(s, "halfkay:") {
		return Selector{ID: s}, nil
	}

	if isDigits(s) {
		idx, _ := strconv.Atoi(s)
		return Selector{Index: idx, byIndex: true}, nil
	}

	// Bare selector is shorthand for a serial port name.
	return Selector{ID: "serial:" + s}, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Resolve returns the single target the selector addresses.
func (sel Selector) Resolve(targets []Target) (Target, error) {
	if sel.byIndex {
		if sel.Index >= len(targets) {
			return Target{}, fmt.Errorf("%w: index %d (have %d)", ErrIndexRange, sel.Index, len(targets))
		}
		return targets[sel.Index], nil
	}

	var matches []Target
	for _, t := range targets {
		if t.ID() == sel.ID {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return Target{}, fmt.Errorf("%w: %s", ErrNoMatch, sel.ID)
	case 1:
		return matches[0], nil
	default:
		return Target{}, fmt.Errorf("%w: %s", ErrAmbiguous, sel.ID)
	}
}
