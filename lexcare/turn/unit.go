package turn

import (
	"context"
	"maps"
	"slices"
)

// Well-known unit names. The orchestrator schedules units by these names;
// a name with no registered unit is skipped.
const (
	UnitSafety     = "safety"
	UnitProfile    = "profile"
	UnitDraft      = "draft"
	UnitEmotion    = "emotion"
	UnitExtraction = "extraction"
	UnitAlliance   = "alliance"
	UnitResearch   = "research"
	UnitProgress   = "progress"
	UnitMatching   = "matching"
	UnitReflection = "reflection"
)

// Unit is one analysis step. Process must treat st as read-only; units in
// the same wave share it concurrently. A returned error drops the unit's
// contribution for this turn.
type Unit interface {
	Name() string
	Process(ctx context.Context, st *State) (Update, error)
}

// UnitFunc adapts a function to the Unit interface.
type UnitFunc struct {
	UnitName string
	Fn       func(ctx context.Context, st *State) (Update, error)
}

func (u UnitFunc) Name() string { return u.UnitName }

func (u UnitFunc) Process(ctx context.Context, st *State) (Update, error) {
	return u.Fn(ctx, st)
}

// Registry holds units keyed by name.
type Registry struct {
	units map[string]Unit
}

// NewRegistry creates a registry holding units. Later units replace earlier
// ones with the same name.
func NewRegistry(units ...Unit) *Registry {
	r := &Registry{units: make(map[string]Unit, len(units))}
	for _, u := range units {
		r.Register(u)
	}
	return r
}

// Register adds or replaces a unit.
func (r *Registry) Register(u Unit) {
	if u == nil {
		return
	}
	r.units[u.Name()] = u
}

// Get returns the unit registered under name.
func (r *Registry) Get(name string) (Unit, bool) {
	if r == nil {
		return nil, false
	}
	u, ok := r.units[name]
	return u, ok
}

// Names lists registered unit names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.units))
}

// resolve returns the registered units among names, keeping their order.
func (r *Registry) resolve(names ...string) []Unit {
	out := make([]Unit, 0, len(names))
	for _, n := range names {
		if u, ok := r.Get(n); ok {
			out = append(out, u)
		}
	}
	return out
}
