package service

import (
	"fmt"

	"lawchat-backend/provider"

	"github.com/google/uuid"
)

// Phase is the state of a stream session
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseAwaitingToolResult
	PhaseDone
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseAwaitingToolResult:
		return "awaiting_tool_result"
	case PhaseDone:
		return "done"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transitions are allowed
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:               {PhaseStreaming, PhaseError},
	PhaseStreaming:          {PhaseAwaitingToolResult, PhaseDone, PhaseError},
	PhaseAwaitingToolResult: {PhaseStreaming, PhaseError},
}

// PhaseObserver is notified of every session transition
type PhaseObserver func(sessionID string, from, to Phase)

// session is the per-connection state owned by one Stream call
type session struct {
	id               string
	phase            Phase
	pendingToolCalls map[string]provider.ToolCall
	toolCalls        int
	observer         PhaseObserver
}

func newSession(observer PhaseObserver) *session {
	return &session{
		id:               uuid.NewString(),
		phase:            PhaseIdle,
		pendingToolCalls: make(map[string]provider.ToolCall),
		observer:         observer,
	}
}

func (s *session) transition(to Phase) error {
	for _, allowed := range allowedTransitions[s.phase] {
		if allowed == to {
			from := s.phase
			s.phase = to
			if s.observer != nil {
				s.observer(s.id, from, to)
			}
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.phase, to)
}

// fail moves to PhaseError unless the session is already terminal
func (s *session) fail() {
	if !s.phase.Terminal() {
		_ = s.transition(PhaseError)
	}
}
