package agentdriver

import "encoding/json"

// rawMessage is one framed line of the agent's streaming protocol.
type rawMessage struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	IsReplay  bool             `json:"is_replay,omitempty"`
	Message   *rawInnerMessage `json:"message,omitempty"`
	Event     *rawStreamEvent  `json:"event,omitempty"`
	Subtype   string           `json:"subtype,omitempty"`

	DurationMS int            `json:"duration_ms,omitempty"`
	CostUSD    float64        `json:"cost_usd,omitempty"`
	Usage      map[string]any `json:"usage,omitempty"`
}

type rawInnerMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type rawStreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *rawDelta     `json:"delta,omitempty"`
}

type rawDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type blockInfo struct {
	Name string
	ID   string
}

// Classifier holds the streaming-parse state for one agent run: the
// last-seen session handle and the open tool-use content-block stack.
type Classifier struct {
	streamingEnabled bool
	lastSessionID    string
	openBlocks       map[int]blockInfo
	messageCount     int
}

// NewClassifier builds a Classifier. streamingEnabled controls whether
// stream_event deltas are surfaced as EventPartial (token streaming) — when
// false, stream_event frames are parsed only for bookkeeping (tool blocks),
// text deltas are dropped.
func NewClassifier(streamingEnabled bool) *Classifier {
	return &Classifier{streamingEnabled: streamingEnabled, openBlocks: make(map[int]blockInfo)}
}

// MessageCount returns how many raw frames have been processed so far.
func (c *Classifier) MessageCount() int { return c.messageCount }

// Process classifies one raw frame into zero or more internal events.
func (c *Classifier) Process(raw []byte) ([]Event, error) {
	var m rawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	c.messageCount++

	var events []Event
	if m.SessionID != "" && m.SessionID != c.lastSessionID {
		c.lastSessionID = m.SessionID
		events = append(events, Event{Type: EventSessionIDCaptured, Handle: m.SessionID})
	}

	switch m.Type {
	case "assistant":
		events = append(events, c.handleComplete(m.Message, "assistant")...)
	case "user":
		if m.IsReplay {
			break
		}
		events = append(events, c.handleComplete(m.Message, "user")...)
	case "stream_event":
		events = append(events, c.handleStreamEvent(m.Event)...)
	case "result":
		events = append(events, Event{
			Type:       EventResult,
			Subtype:    m.Subtype,
			DurationMS: m.DurationMS,
			CostUSD:    m.CostUSD,
			Usage:      m.Usage,
		})
		events = append(events, Event{Type: EventEnd, Reason: EndReasonResult})
	case "system":
		// init / compact_boundary: no dedicated event in the enum beyond the
		// session-id capture already handled above.
	}
	return events, nil
}

// SawActivity reports whether m.Type denotes assistant/user/result activity
// that should reset the idle timer.
func SawActivity(raw []byte) bool {
	var m rawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	switch m.Type {
	case "assistant", "user", "result":
		return true
	default:
		return false
	}
}

func (c *Classifier) handleComplete(msg *rawInnerMessage, role string) []Event {
	if msg == nil {
		return nil
	}
	events := []Event{{Type: EventMessageStart, Role: role}}

	var toolUses []string
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			events = append(events, Event{Type: EventToolStart, ToolName: block.Name, ToolUseID: block.ID})
			events = append(events, Event{Type: EventToolComplete, ToolUseID: block.ID})
			toolUses = append(toolUses, block.ID)
		case "tool_result":
			events = append(events, Event{Type: EventToolComplete, ToolUseID: block.ToolUseID})
		}
	}

	events = append(events, Event{Type: EventComplete, Role: role, ContentBlocks: msg.Content, ToolUses: toolUses})
	events = append(events, Event{Type: EventMessageComplete, Role: role})
	return events
}

func (c *Classifier) handleStreamEvent(ev *rawStreamEvent) []Event {
	if ev == nil {
		return nil
	}
	switch ev.Type {
	case "message_start":
		return []Event{{Type: EventMessageStart}}
	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			c.openBlocks[ev.Index] = blockInfo{Name: ev.ContentBlock.Name, ID: ev.ContentBlock.ID}
			return []Event{{Type: EventToolStart, ToolName: ev.ContentBlock.Name, ToolUseID: ev.ContentBlock.ID}}
		}
		return nil
	case "content_block_delta":
		if !c.streamingEnabled {
			return nil
		}
		if ev.Delta != nil && ev.Delta.Type == "text_delta" {
			return []Event{{Type: EventPartial, TextChunk: ev.Delta.Text}}
		}
		return nil
	case "content_block_stop":
		if blk, ok := c.openBlocks[ev.Index]; ok {
			delete(c.openBlocks, ev.Index)
			return []Event{{Type: EventToolComplete, ToolUseID: blk.ID}}
		}
		return nil
	case "message_stop":
		c.openBlocks = make(map[int]blockInfo)
		return []Event{{Type: EventMessageComplete}}
	}
	return nil
}
