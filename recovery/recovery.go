// Package recovery decides how template parsing reacts to malformed input.
package recovery

import (
	"context"
	"fmt"
	"sync"
)

// Action is a strategy's verdict on one problem.
type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

var actionNames = [...]string{"fail", "skip", "fix", "warn"}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "unknown"
	}
	return actionNames[a]
}

// Location is where in the template a problem was found.
type Location struct {
	Component  string
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s obj %d %d @%d", l.Component, l.ObjectNum, l.ObjectGen, l.ByteOffset)
	}
	return fmt.Sprintf("%s @%d", l.Component, l.ByteOffset)
}

// Strategy is consulted for every problem met while parsing a template.
type Strategy interface {
	OnError(ctx context.Context, err error, loc Location) Action
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, err error, loc Location) Action

func (f StrategyFunc) OnError(ctx context.Context, err error, loc Location) Action {
	return f(ctx, err, loc)
}

// NewStrictStrategy fails on the first problem.
func NewStrictStrategy() Strategy {
	return StrategyFunc(func(context.Context, error, Location) Action { return ActionFail })
}

// MaxRecorded bounds the repairs a Lenient strategy keeps; later ones are
// only counted.
const MaxRecorded = 256

// Lenient repairs whatever it is asked about and records each repair.
// Templates come from many authoring tools and small structural damage
// must not cost the render.
type Lenient struct {
	mu      sync.Mutex
	repairs []error
	total   int
}

func NewLenientStrategy() *Lenient { return &Lenient{} }

func (l *Lenient) OnError(_ context.Context, err error, loc Location) Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total++
	if len(l.repairs) < MaxRecorded {
		l.repairs = append(l.repairs, fmt.Errorf("[%s]: %w", loc, err))
	}
	return ActionFix
}

// Errors returns a copy of the recorded repairs.
func (l *Lenient) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.repairs...)
}

// Count is the number of repairs, including those past MaxRecorded.
func (l *Lenient) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
