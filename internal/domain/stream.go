package domain

// StreamDeltaPayload is the payload for EventLLMStreamDelta events.
// Published for each incremental chunk during a streaming LLM response.
type StreamDeltaPayload struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Step      int        `json:"step"`
}

// StreamCompletedPayload is the payload for EventLLMStreamEnd events.
// Published once when the full streaming response is available.
type StreamCompletedPayload struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// StreamErrorPayload is the payload for EventLoopError events raised from
// a failed streaming response.
type StreamErrorPayload struct {
	Error string `json:"error"`
}
