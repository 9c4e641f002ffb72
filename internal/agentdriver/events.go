// Package agentdriver implements the AgentDriver (C6, §4.6): it runs one
// agent subprocess for one prompt, classifies its streaming protocol into a
// typed event enum, and owns cancellation, idle timeout, and stderr capture.
// The streaming read-loop and JSON classification are grounded on
// backend/pkg/acp/jsonrpc/client.go's readLoop (bufio.Scanner over stdout,
// per-line JSON dispatch, pending-request bookkeeping) and
// backend/internal/agent/acp/session.go's message-type switch; the spawn
// mechanism is rebuilt on collab.ProcessSpawner/os/exec + syscall.Credential
// instead of the teacher's Docker-exec transport.
package agentdriver

// EventType enumerates the internal event stream produced from an agent's
// raw streaming protocol (§4.6).
type EventType string

const (
	EventSessionIDCaptured EventType = "session_id_captured"
	EventPartial           EventType = "partial"
	EventToolStart         EventType = "tool_start"
	EventToolComplete      EventType = "tool_complete"
	EventMessageStart      EventType = "message_start"
	EventMessageComplete   EventType = "message_complete"
	EventComplete          EventType = "complete"
	EventResult            EventType = "result"
	EventEnd               EventType = "end"
)

// EndReason distinguishes why an event stream ended.
type EndReason string

const (
	EndReasonResult        EndReason = "result"
	EndReasonTimeout       EndReason = "timeout"
	EndReasonStopRequested EndReason = "stop_requested"
	EndReasonError         EndReason = "error"
)

// Event is one item of the classified event stream handed to the kernel.
type Event struct {
	Type EventType

	// session_id_captured
	Handle string

	// partial
	TextChunk string

	// tool_start / tool_complete
	ToolName  string
	ToolUseID string

	// message_start / message_complete / complete
	Role string

	// complete
	ContentBlocks []ContentBlock
	ToolUses      []string

	// result
	Subtype    string
	DurationMS int
	CostUSD    float64
	Usage      map[string]any

	// end
	Reason EndReason
}

// ContentBlock is one block of an assistant/user message's content array.
type ContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   any            `json:"content,omitempty"`
}
