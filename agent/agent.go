// Package agent defines the worker contract of the OmniSupply engine: an
// Agent wraps one compiled workflow graph behind a single Execute call
// that never fails past its own boundary, and advertises capabilities the
// Registry scores queries against.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnisupply/omnisupply-go/workflow"
)

// Request carries one execution's inputs.
type Request struct {
	// Query is the natural-language request.
	Query string

	// Context is an arbitrary key/value side-channel. In sequential
	// supervisor runs it accumulates prior agents' results.
	Context map[string]interface{}

	// SessionID ties the run to a session. Generated when empty.
	SessionID string
}

// Result is the externally visible output of one agent execution.
// Immutable once returned.
type Result struct {
	AgentName       string                 `json:"agent_name"`
	Query           string                 `json:"query"`
	Timestamp       time.Time              `json:"timestamp"`
	Success         bool                   `json:"success"`
	Insights        []string               `json:"insights,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
	RawData         interface{}            `json:"raw_data,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ExecutionTimeMS float64                `json:"execution_time_ms"`
}

// Agent is the capability-set interface the Registry and Supervisor
// depend on. They never reference concrete agent types.
type Agent interface {
	// Name is the unique registry key, fixed at construction.
	Name() string

	// Capabilities describes what the agent can do, one phrase per entry.
	Capabilities() []string

	// CanHandle reports a confidence in [0,1] for the query.
	CanHandle(query string) float64

	// Execute runs the agent's workflow. It never returns an error:
	// every failure is folded into a Result with Success=false.
	Execute(ctx context.Context, req Request) Result
}

// NewSessionID generates a session identifier for an agent run.
func NewSessionID(agentName string) string {
	return agentName + "_" + uuid.NewString()
}

// Run executes a compiled graph on behalf of an agent and wraps the
// outcome in a Result. It is the shared Execute body:
//
//   - generates a session ID when the request has none
//   - runs the graph with the request's session as run ID
//   - converts any escaping error or panic into a failed Result
//   - stamps agent name, query, timestamp, and execution duration
//
// format converts the final workflow state into the agent's Result;
// it is only called on a clean graph run.
func Run[S any](ctx context.Context, name string, g *workflow.Graph[S], req Request, initial S, format func(S) Result) (res Result) {
	start := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = NewSessionID(name)
	}

	stamp := func(r *Result) {
		r.AgentName = name
		r.Query = req.Query
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now().UTC()
		}
		r.ExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = Result{Success: false, Error: fmt.Sprintf("panic: %v", rec)}
			stamp(&res)
		}
	}()

	final, err := g.Run(ctx, sessionID, initial)
	if err != nil {
		res = Result{Success: false, Error: err.Error()}
		stamp(&res)
		return res
	}

	res = format(final)
	stamp(&res)
	return res
}

// KeywordConfidence is the default CanHandle policy: token overlap
// between the query and the capability list. A capability counts as
// matched when any of its lower-cased words appears in the lower-cased
// query; the score is matched capabilities over total capabilities,
// clamped to 1.0. Agents may override with a stronger policy; callers
// rely only on the [0,1] contract.
func KeywordConfidence(query string, capabilities []string) float64 {
	if len(capabilities) == 0 {
		return 0.0
	}

	queryLower := strings.ToLower(query)
	matches := 0
	for _, cap := range capabilities {
		for _, word := range strings.Fields(strings.ToLower(cap)) {
			if strings.Contains(queryLower, word) {
				matches++
				break
			}
		}
	}

	score := float64(matches) / float64(len(capabilities))
	if score > 1.0 {
		return 1.0
	}
	return score
}
