package workflow

// Error codes carried by GraphError. Construction-time codes indicate
// programmer errors and must abort startup; runtime codes surface through
// the owning agent as a failed result, never as a crash.
const (
	CodeInvalidNode     = "INVALID_NODE"
	CodeDuplicateNode   = "DUPLICATE_NODE"
	CodeInvalidEdge     = "INVALID_EDGE"
	CodeDuplicateEdge   = "DUPLICATE_EDGE"
	CodeNoEntry         = "NO_ENTRY_NODE"
	CodeNodeNotFound    = "NODE_NOT_FOUND"
	CodeNoRoute         = "NO_ROUTE"
	CodeUnknownRouteKey = "UNKNOWN_ROUTE_KEY"
	CodeMaxSteps        = "MAX_STEPS_EXCEEDED"
	CodeNodeTimeout     = "NODE_TIMEOUT"
)

// GraphError represents an error from graph construction or execution.
type GraphError struct {
	Message string
	Code    string
}

func (e *GraphError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
