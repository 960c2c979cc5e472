package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

var ErrFlushUnsupported = errors.New("ResponseWriter does not support http.Flusher")

// contentFrame carries one model token
type contentFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// toolResultFrame carries the JSON result of a search_law_articles call
type toolResultFrame struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

type doneFrame struct {
	Done bool `json:"done"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// SSEWriter writes chat frames as server-sent events. Every frame is a single
// "data: <json>\n\n" record flushed immediately.
//
// Safe for concurrent use.
type SSEWriter struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter wraps w, which must support http.Flusher
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrFlushUnsupported
	}
	return &SSEWriter{writer: w, flusher: flusher}, nil
}

func (w *SSEWriter) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteContent writes {"type":"content","content":...}
func (w *SSEWriter) WriteContent(content string) error {
	return w.writeFrame(contentFrame{Type: "content", Content: content})
}

// WriteToolResult writes {"type":"tool_result","tool_call_id":...,"content":...}
func (w *SSEWriter) WriteToolResult(toolCallID, content string) error {
	return w.writeFrame(toolResultFrame{Type: "tool_result", ToolCallID: toolCallID, Content: content})
}

// WriteDone writes the terminal {"done":true} frame
func (w *SSEWriter) WriteDone() error {
	return w.writeFrame(doneFrame{Done: true})
}

// WriteError writes the terminal {"error":...} frame
func (w *SSEWriter) WriteError(message string) error {
	return w.writeFrame(errorFrame{Error: message})
}

// SetSSEHeaders prepares w for an event stream. Call before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
