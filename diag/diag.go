// Package diag holds the error taxonomy of a render and the per-object
// diagnostics collected while compositing.
package diag

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecoverableInput means the template is not a usable document. It is
	// the only error that aborts a render.
	ErrUnrecoverableInput = errors.New("unrecoverable input")
	// ErrResourceUnresolved means a font or image could not be found or decoded.
	ErrResourceUnresolved = errors.New("resource unresolved")
	// ErrBindingUnresolved means a dynamic field could not be evaluated.
	ErrBindingUnresolved = errors.New("binding unresolved")
	// ErrGeometryInvalid means the mapped rectangle is degenerate or off-page.
	ErrGeometryInvalid = errors.New("geometry invalid")
)

// Action is what the compositor did with an object after an error.
type Action string

const (
	ActionSkip        Action = "skip"
	ActionDegrade     Action = "degrade"
	ActionSuppress    Action = "suppress"
	ActionPlaceholder Action = "placeholder"
)

// Entry records one skipped or degraded object.
type Entry struct {
	Page     int // zero-based
	ObjectID string
	Kind     string
	Action   Action
	Err      error
}

func (e Entry) String() string {
	id := e.ObjectID
	if id == "" {
		id = "?"
	}
	return fmt.Sprintf("page %d %s %s: %s: %v", e.Page+1, e.Kind, id, e.Action, e.Err)
}

// ActionFor maps an error to the action its class calls for.
func ActionFor(err error) Action {
	switch {
	case errors.Is(err, ErrBindingUnresolved):
		return ActionSuppress
	case errors.Is(err, ErrResourceUnresolved):
		return ActionDegrade
	default:
		return ActionSkip
	}
}

// Wrap attaches a taxonomy class to err so errors.Is matches both.
func Wrap(class error, err error) error {
	if err == nil {
		return class
	}
	if errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %w", class, err)
}

// Collector accumulates entries for one render.
type Collector struct {
	entries []Entry
}

func (c *Collector) Add(e Entry) { c.entries = append(c.entries, e) }

// Entries returns the recorded entries in insertion order.
func (c *Collector) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Count returns how many entries match class.
func (c *Collector) Count(class error) int {
	n := 0
	for _, e := range c.entries {
		if errors.Is(e.Err, class) {
			n++
		}
	}
	return n
}
