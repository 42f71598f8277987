package agent

import (
	"fmt"
	"strings"
)

// Registry maps agent ids to agents. It is built once at startup and is
// read-only afterwards, so it needs no locking.
type Registry struct {
	byID  map[string]*Agent
	order []*Agent
}

// NewRegistry registers agents in order. Registration order breaks ties in
// least-recently-used selection.
func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Agent, len(agents))}
	for i := range agents {
		a := agents[i]
		if a.ID == "" || a.Name == "" {
			return nil, fmt.Errorf("agents[%d]: %w", i, ErrInvalidAgent)
		}
		if _, ok := r.byID[a.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID)
		}
		a.Functions = append([]string(nil), a.Functions...)
		r.byID[a.ID] = &a
		r.order = append(r.order, &a)
	}
	return r, nil
}

// Get returns the agent with id.
func (r *Registry) Get(id string) (*Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// All returns agents in registration order.
func (r *Registry) All() []*Agent {
	out := make([]*Agent, len(r.order))
	copy(out, r.order)
	return out
}

// ByRole returns agents of role in registration order.
func (r *Registry) ByRole(role Role) []*Agent {
	var out []*Agent
	for _, a := range r.order {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// ByName finds an agent by name, ignoring case. A name with spaces also
// matches its space-free form ("Dev Bot" matches "devbot").
func (r *Registry) ByName(name string) (*Agent, bool) {
	want := strings.ToLower(name)
	for _, a := range r.order {
		lower := strings.ToLower(a.Name)
		if lower == want || strings.ReplaceAll(lower, " ", "") == want {
			return a, true
		}
	}
	return nil, false
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.order)
}
