package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable backends, each guarded by its
// own [Breaker]. Members are tried in the order they were added.
type Group[T any] struct {
	members []member[T]
	cfg     BreakerConfig
}

// NewGroup creates a [Group] whose first member is primary. cfg is copied for
// every member's breaker, with Name set to the member name.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback. Add must not be called concurrently with [Do].
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// MemberState is a point-in-time view of one member.
type MemberState struct {
	Name  string
	State State
}

// States reports every member's breaker state in order.
func (g *Group[T]) States() []MemberState {
	out := make([]MemberState, len(g.members))
	for i, m := range g.members {
		out[i] = MemberState{Name: m.name, State: m.breaker.State()}
	}
	return out
}

// Do calls fn on each member until one succeeds. Members with an open breaker
// are skipped. Once ctx is done no further member is tried. When every member
// fails, the returned error wraps [ErrAllFailed] and each member's error.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, m := range g.members {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend with open circuit", "backend", m.name)
			continue
		}
		slog.Warn("backend failed, trying next", "backend", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
