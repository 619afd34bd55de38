// Package workflow provides the directed-graph executor that OmniSupply
// agents run on.
//
// A workflow is a set of named nodes (state-transform functions) connected
// by unconditional edges or by conditional edges whose router function maps
// the current state to a next-node key. Graphs are built with a Builder,
// validated once by Compile, and executed with Run. Cycles are legal and
// are used for bounded retry loops; every cycle must contain a node that
// increments a counter the router checks, and MaxSteps is the backstop.
package workflow

import (
	"context"
	"time"

	"github.com/omnisupply/omnisupply-go/workflow/emit"
)

// End is the terminal sentinel. Routing to End stops execution.
const End = "__end__"

// DefaultMaxSteps bounds a run when Options.MaxSteps is zero.
const DefaultMaxSteps = 50

// NodeFunc transforms workflow state. A returned error aborts the run and
// surfaces to the caller; nodes participating in a retry cycle record
// failures into the state instead and let their router decide.
//
// Type parameter S is the state type carried through one execution.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Router picks the next-node key from the current state. The key is looked
// up in the fixed target table given to AddConditionalEdges; a key missing
// from the table is a fatal configuration error at runtime.
type Router[S any] func(state S) string

// Options configures graph execution behavior.
type Options struct {
	// MaxSteps limits a run to prevent unbounded retry cycles.
	// Zero means DefaultMaxSteps.
	MaxSteps int

	// NodeTimeout is the per-node execution deadline. Zero disables it.
	// A node exceeding the deadline fails that step; it is a normal step
	// failure, not a process-level condition.
	NodeTimeout time.Duration
}

type conditional[S any] struct {
	route   Router[S]
	targets map[string]string
}

// Builder accumulates nodes and edges before Compile validates them.
//
// Builder methods return configuration errors eagerly (duplicate node,
// empty ID); reference errors (dangling edge targets, missing entry) are
// reported by Compile so construction order stays flexible.
type Builder[S any] struct {
	nodes   map[string]NodeFunc[S]
	edges   map[string]string
	routers map[string]conditional[S]
	entry   string
	opts    Options
	emitter emit.Emitter
	metrics *Metrics
}

// New creates an empty Builder with the given options.
func New[S any](opts Options) *Builder[S] {
	return &Builder[S]{
		nodes:   make(map[string]NodeFunc[S]),
		edges:   make(map[string]string),
		routers: make(map[string]conditional[S]),
		opts:    opts,
	}
}

// WithEmitter attaches an observability emitter. Nil is allowed and
// disables event emission.
func (b *Builder[S]) WithEmitter(e emit.Emitter) *Builder[S] {
	b.emitter = e
	return b
}

// WithMetrics attaches a Prometheus metrics collector. Nil disables
// metrics recording.
func (b *Builder[S]) WithMetrics(m *Metrics) *Builder[S] {
	b.metrics = m
	return b
}

// AddNode registers a named node. Node IDs are unique within the graph.
func (b *Builder[S]) AddNode(id string, fn NodeFunc[S]) error {
	if id == "" || id == End {
		return &GraphError{Message: "invalid node ID: " + id, Code: CodeInvalidNode}
	}
	if fn == nil {
		return &GraphError{Message: "node function cannot be nil: " + id, Code: CodeInvalidNode}
	}
	if _, exists := b.nodes[id]; exists {
		return &GraphError{Message: "duplicate node ID: " + id, Code: CodeDuplicateNode}
	}
	b.nodes[id] = fn
	return nil
}

// SetEntry sets the node execution starts from.
func (b *Builder[S]) SetEntry(id string) error {
	if id == "" {
		return &GraphError{Message: "entry node ID cannot be empty", Code: CodeInvalidNode}
	}
	b.entry = id
	return nil
}

// AddEdge creates an unconditional edge. A node has exactly one outgoing
// edge, unconditional or conditional.
func (b *Builder[S]) AddEdge(from, to string) error {
	if from == "" || to == "" {
		return &GraphError{Message: "edge endpoints cannot be empty", Code: CodeInvalidEdge}
	}
	if err := b.checkSingleRoute(from); err != nil {
		return err
	}
	b.edges[from] = to
	return nil
}

// AddConditionalEdges creates a conditional edge: at runtime the router is
// evaluated against the current state and its key resolved through the
// fixed target table. Targets may include End.
func (b *Builder[S]) AddConditionalEdges(from string, route Router[S], targets map[string]string) error {
	if from == "" {
		return &GraphError{Message: "edge source cannot be empty", Code: CodeInvalidEdge}
	}
	if route == nil {
		return &GraphError{Message: "router cannot be nil for node: " + from, Code: CodeInvalidEdge}
	}
	if len(targets) == 0 {
		return &GraphError{Message: "router target table cannot be empty for node: " + from, Code: CodeInvalidEdge}
	}
	if err := b.checkSingleRoute(from); err != nil {
		return err
	}
	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	b.routers[from] = conditional[S]{route: route, targets: copied}
	return nil
}

func (b *Builder[S]) checkSingleRoute(from string) error {
	if _, dup := b.edges[from]; dup {
		return &GraphError{Message: "node already has an outgoing edge: " + from, Code: CodeDuplicateEdge}
	}
	if _, dup := b.routers[from]; dup {
		return &GraphError{Message: "node already has an outgoing edge: " + from, Code: CodeDuplicateEdge}
	}
	return nil
}

// Compile validates the graph and returns an immutable executable Graph.
//
// Validation fails fast on:
//   - missing or unknown entry node
//   - edges from or to undeclared nodes (End excepted)
//   - router target tables referencing undeclared nodes
//
// These are programmer errors and must abort startup; no Run is attempted
// against an invalid topology. Compile does not detect cycles: retry
// cycles are intentional and bounded by node-local counters.
func (b *Builder[S]) Compile() (*Graph[S], error) {
	if b.entry == "" {
		return nil, &GraphError{Message: "entry node not set", Code: CodeNoEntry}
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, &GraphError{Message: "entry node does not exist: " + b.entry, Code: CodeNodeNotFound}
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, &GraphError{Message: "edge from undeclared node: " + from, Code: CodeNodeNotFound}
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, &GraphError{Message: "edge to undeclared node: " + to, Code: CodeNodeNotFound}
			}
		}
	}
	for from, cond := range b.routers {
		if _, ok := b.nodes[from]; !ok {
			return nil, &GraphError{Message: "conditional edge from undeclared node: " + from, Code: CodeNodeNotFound}
		}
		for key, to := range cond.targets {
			if to != End {
				if _, ok := b.nodes[to]; !ok {
					return nil, &GraphError{
						Message: "router key " + key + " targets undeclared node: " + to,
						Code:    CodeNodeNotFound,
					}
				}
			}
		}
	}

	g := &Graph[S]{
		nodes:   make(map[string]NodeFunc[S], len(b.nodes)),
		edges:   make(map[string]string, len(b.edges)),
		routers: make(map[string]conditional[S], len(b.routers)),
		entry:   b.entry,
		opts:    b.opts,
		emitter: b.emitter,
		metrics: b.metrics,
	}
	for id, fn := range b.nodes {
		g.nodes[id] = fn
	}
	for from, to := range b.edges {
		g.edges[from] = to
	}
	for from, cond := range b.routers {
		g.routers[from] = cond
	}
	return g, nil
}

// Graph is a compiled, immutable workflow. Safe for concurrent Run calls;
// each run carries its own state and shares nothing with sibling runs.
type Graph[S any] struct {
	nodes   map[string]NodeFunc[S]
	edges   map[string]string
	routers map[string]conditional[S]
	entry   string
	opts    Options
	emitter emit.Emitter
	metrics *Metrics
}

// Run executes the graph from the entry node until routing reaches End.
//
// Each step runs the current node, then resolves the next node: an
// unconditional edge resolves immediately, a conditional edge evaluates
// its router against the state produced by the node. A node error aborts
// the run. Context cancellation is observed between steps.
func (g *Graph[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	maxSteps := g.opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	state := initial
	current := g.entry
	step := 0

	status := "error"
	if g.metrics != nil {
		g.metrics.runStarted()
		defer func() { g.metrics.runFinished(status) }()
	}

	for {
		step++
		if step > maxSteps {
			status = "aborted"
			g.emitEvent(runID, step, current, "run_aborted", map[string]interface{}{"reason": "max steps"})
			return zero, &GraphError{
				Message: "execution exceeded MaxSteps at node " + current,
				Code:    CodeMaxSteps,
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		fn, ok := g.nodes[current]
		if !ok {
			return zero, &GraphError{Message: "node not found during execution: " + current, Code: CodeNodeNotFound}
		}

		g.emitEvent(runID, step, current, "node_start", nil)
		start := time.Now()

		next, err := g.runNode(ctx, fn, state)
		elapsed := time.Since(start)

		if err != nil {
			g.emitEvent(runID, step, current, "node_error", map[string]interface{}{
				"error":       err.Error(),
				"duration_ms": elapsed.Milliseconds(),
			})
			if g.metrics != nil {
				g.metrics.observeStep(current, "error", elapsed)
			}
			return zero, err
		}
		state = next

		g.emitEvent(runID, step, current, "node_end", map[string]interface{}{
			"duration_ms": elapsed.Milliseconds(),
		})
		if g.metrics != nil {
			g.metrics.observeStep(current, "success", elapsed)
		}

		target, err := g.nextNode(current, state)
		if err != nil {
			return zero, err
		}
		if target == End {
			status = "complete"
			g.emitEvent(runID, step, current, "run_complete", nil)
			return state, nil
		}
		current = target
	}
}

// runNode executes one node, enforcing the per-node deadline when
// configured. Deadline expiry is reported as a step failure on the node.
func (g *Graph[S]) runNode(ctx context.Context, fn NodeFunc[S], state S) (S, error) {
	if g.opts.NodeTimeout <= 0 {
		return fn(ctx, state)
	}

	nodeCtx, cancel := context.WithTimeout(ctx, g.opts.NodeTimeout)
	defer cancel()

	next, err := fn(nodeCtx, state)
	if err != nil && nodeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return next, &GraphError{
			Message: "node exceeded timeout of " + g.opts.NodeTimeout.String(),
			Code:    CodeNodeTimeout,
		}
	}
	return next, err
}

func (g *Graph[S]) nextNode(current string, state S) (string, error) {
	if to, ok := g.edges[current]; ok {
		return to, nil
	}
	if cond, ok := g.routers[current]; ok {
		key := cond.route(state)
		to, ok := cond.targets[key]
		if !ok {
			// The table is fixed at construction; an unknown key means the
			// router and table disagree. Never swallowed.
			return "", &GraphError{
				Message: "router returned unknown key " + key + " from node " + current,
				Code:    CodeUnknownRouteKey,
			}
		}
		return to, nil
	}
	return "", &GraphError{Message: "no outgoing edge from node: " + current, Code: CodeNoRoute}
}

func (g *Graph[S]) emitEvent(runID string, step int, nodeID, msg string, meta map[string]interface{}) {
	if g.emitter == nil {
		return
	}
	g.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}
