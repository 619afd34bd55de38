package agent

import "fmt"

// DefaultConfidenceThreshold is the minimum FindBest score. The value is
// empirical, not structural, so it is configurable per Registry.
const DefaultConfidenceThreshold = 0.3

// Registry is a name-keyed collection of agents.
//
// Agents are registered once at startup; after population the Registry is
// read-only and safe for concurrent lookups without locking. Registration
// order is preserved so confidence ties resolve deterministically.
type Registry struct {
	byName    map[string]Agent
	order     []string
	threshold float64
}

// NewRegistry creates an empty Registry with the default confidence
// threshold.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]Agent),
		threshold: DefaultConfidenceThreshold,
	}
}

// SetThreshold overrides the FindBest confidence threshold. Call before
// the Registry is shared.
func (r *Registry) SetThreshold(threshold float64) {
	r.threshold = threshold
}

// Register adds an agent. Duplicate names are a configuration error.
func (r *Registry) Register(a Agent) error {
	if a == nil {
		return fmt.Errorf("cannot register nil agent")
	}
	name := a.Name()
	if name == "" {
		return fmt.Errorf("cannot register agent with empty name")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("agent already registered: %s", name)
	}
	r.byName[name] = a
	r.order = append(r.order, name)
	return nil
}

// Get returns the agent with the given name, if registered.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// Names returns registered agent names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.order)
}

// AllCapabilities returns every agent's capability list keyed by name.
func (r *Registry) AllCapabilities() map[string][]string {
	out := make(map[string][]string, len(r.order))
	for name, a := range r.byName {
		out[name] = a.Capabilities()
	}
	return out
}

// FindBest scores every agent's CanHandle for the query and returns the
// highest scorer if it clears the threshold. A false return means "no
// confident match", a normal outcome distinct from any error.
//
// Ties break by registration order: iteration follows the order slice
// and only a strictly greater score displaces the current best.
func (r *Registry) FindBest(query string) (Agent, bool) {
	var best Agent
	bestScore := -1.0

	for _, name := range r.order {
		a := r.byName[name]
		if score := a.CanHandle(query); score > bestScore {
			best = a
			bestScore = score
		}
	}

	if best == nil || bestScore <= r.threshold {
		return nil, false
	}
	return best, true
}
