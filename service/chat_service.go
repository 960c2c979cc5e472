package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"lawchat-backend/models"
	"lawchat-backend/observability"
	"lawchat-backend/provider"
)

// SystemInstruction frames every conversation sent to the model
const SystemInstruction = `You are a legal information assistant answering questions about the statutes in this service's corpus.

Rules:
- For ANY question about legal substance (rights, duties, offences, procedures, penalties, definitions) you MUST call search_law_articles before answering.
- When the user names an article number, call search_law_articles with that number as the query.
- Base your answer only on the articles returned. Cite article numbers and titles.
- If the search returns nothing relevant, say so plainly instead of guessing.
- You provide legal information, not legal advice. Suggest consulting a qualified lawyer for decisions about a specific case.`

// DefaultMaxToolCalls bounds tool round-trips in one stream
const DefaultMaxToolCalls = 8

var (
	ErrProviderNotSet    = errors.New("llm provider not set")
	ErrSearcherNotSet    = errors.New("article searcher not set")
	ErrTooManyToolCalls  = errors.New("too many tool calls in one conversation")
	ErrStreamTimedOut    = errors.New("stream timed out")
	errTransportWriteErr = errors.New("client transport write failed")
)

// Outcome is how a stream ended
type Outcome string

const (
	OutcomeDone          Outcome = "done"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeClientGone    Outcome = "client_gone"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeToolLimit     Outcome = "tool_limit"
)

// FrameWriter is the client-facing event stream. Each call must flush its
// frame before returning.
type FrameWriter interface {
	WriteContent(content string) error
	WriteToolResult(toolCallID, content string) error
	WriteDone() error
	WriteError(message string) error
}

// StreamResult summarizes a finished stream
type StreamResult struct {
	SessionID string
	Outcome   Outcome
	Phase     Phase
	ToolCalls int
	Err       error
}

// ChatService runs streaming conversations between a client and the LLM,
// answering search_law_articles calls from the in-memory corpus
type ChatService struct {
	provider      provider.Provider
	searcher      ArticleSearcher
	metrics       *observability.Metrics
	observer      PhaseObserver
	streamTimeout time.Duration
	maxToolCalls  int
	toolLimit     int
}

// ChatServiceOption is a functional option for ChatService
type ChatServiceOption func(*ChatService)

// ChatWithProvider sets the LLM provider
func ChatWithProvider(p provider.Provider) ChatServiceOption {
	return func(s *ChatService) {
		s.provider = p
	}
}

// ChatWithSearcher sets the article search engine
func ChatWithSearcher(searcher ArticleSearcher) ChatServiceOption {
	return func(s *ChatService) {
		s.searcher = searcher
	}
}

// ChatWithMetrics sets the metrics sink
func ChatWithMetrics(m *observability.Metrics) ChatServiceOption {
	return func(s *ChatService) {
		s.metrics = m
	}
}

// ChatWithPhaseObserver registers a callback for session transitions
func ChatWithPhaseObserver(observer PhaseObserver) ChatServiceOption {
	return func(s *ChatService) {
		s.observer = observer
	}
}

// ChatWithStreamTimeout bounds each stream; zero means no deadline
func ChatWithStreamTimeout(d time.Duration) ChatServiceOption {
	return func(s *ChatService) {
		s.streamTimeout = d
	}
}

// ChatWithMaxToolCalls bounds tool round-trips per stream
func ChatWithMaxToolCalls(n int) ChatServiceOption {
	return func(s *ChatService) {
		s.maxToolCalls = n
	}
}

// ChatWithToolDefaultLimit sets the result count used when the model omits limit
func ChatWithToolDefaultLimit(n int) ChatServiceOption {
	return func(s *ChatService) {
		s.toolLimit = n
	}
}

// NewChatService creates a new chat service
func NewChatService(opts ...ChatServiceOption) *ChatService {
	s := &ChatService{
		maxToolCalls: DefaultMaxToolCalls,
		toolLimit:    DefaultToolLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxToolCalls <= 0 {
		s.maxToolCalls = DefaultMaxToolCalls
	}
	if s.toolLimit <= 0 {
		s.toolLimit = DefaultToolLimit
	}
	return s
}

// ProviderName reports the configured provider
func (s *ChatService) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

// Ping checks provider reachability
func (s *ChatService) Ping(ctx context.Context) error {
	if s.provider == nil {
		return ErrProviderNotSet
	}
	return s.provider.Ping(ctx)
}

// Ready reports whether the service can open streams
func (s *ChatService) Ready() error {
	if s.provider == nil {
		return ErrProviderNotSet
	}
	if s.searcher == nil {
		return ErrSearcherNotSet
	}
	return nil
}

// Stream runs one conversation to completion, writing frames to w.
//
// The request must already be validated and admitted. Stream returns once a
// terminal frame has been written, the client has gone away, or a write has
// failed. Provider failures are reported to the client as an error frame and
// are never retried here.
func (s *ChatService) Stream(ctx context.Context, req *models.ChatRequest, w FrameWriter) StreamResult {
	sess := newSession(s.observer)
	log := slog.With("session_id", sess.id, "provider", s.ProviderName())
	started := time.Now()
	s.metrics.StreamStarted()

	result := s.run(ctx, sess, req, w, log)
	result.SessionID = sess.id
	result.Phase = sess.phase
	result.ToolCalls = sess.toolCalls

	s.metrics.StreamFinished(string(result.Outcome), time.Since(started))
	log.Info("chat stream finished",
		"outcome", result.Outcome,
		"tool_calls", result.ToolCalls,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result
}

func (s *ChatService) run(parent context.Context, sess *session, req *models.ChatRequest, w FrameWriter, log *slog.Logger) StreamResult {
	if err := s.Ready(); err != nil {
		sess.fail()
		_ = w.WriteError(err.Error())
		return StreamResult{Outcome: OutcomeProviderError, Err: err}
	}

	ctx := parent
	if s.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.streamTimeout)
		defer cancel()
	}

	conv, err := s.provider.Start(ctx, provider.StartRequest{
		System:   SystemInstruction,
		Messages: req.Messages,
		Tools:    []provider.ToolDefinition{SearchToolDefinition()},
	})
	if err != nil {
		return s.abort(parent, ctx, sess, w, log, err)
	}
	defer conv.Close()

	if err := sess.transition(PhaseStreaming); err != nil {
		return s.abort(parent, ctx, sess, w, log, err)
	}

	for {
		unit, err := conv.Next(ctx)
		if errors.Is(err, io.EOF) {
			if err := sess.transition(PhaseDone); err != nil {
				return s.abort(parent, ctx, sess, w, log, err)
			}
			if err := w.WriteDone(); err != nil {
				return s.transportLost(sess, log, err)
			}
			return StreamResult{Outcome: OutcomeDone}
		}
		if err != nil {
			return s.abort(parent, ctx, sess, w, log, err)
		}

		switch unit.Kind {
		case provider.UnitContent:
			if err := w.WriteContent(unit.Content); err != nil {
				return s.transportLost(sess, log, err)
			}

		case provider.UnitToolCall:
			if res, stop := s.handleToolCall(sess, conv, unit.ToolCall, w, log); stop {
				return res
			}
		}
	}
}

// handleToolCall runs AwaitingToolResult for one call and returns to Streaming.
// stop is true when the session has ended.
func (s *ChatService) handleToolCall(sess *session, conv provider.Conversation, call provider.ToolCall, w FrameWriter, log *slog.Logger) (StreamResult, bool) {
	sess.toolCalls++
	if sess.toolCalls > s.maxToolCalls {
		sess.fail()
		log.Warn("tool call limit reached", "limit", s.maxToolCalls)
		if err := w.WriteError(ErrTooManyToolCalls.Error()); err != nil {
			return s.transportLost(sess, log, err), true
		}
		return StreamResult{Outcome: OutcomeToolLimit, Err: ErrTooManyToolCalls}, true
	}

	if err := sess.transition(PhaseAwaitingToolResult); err != nil {
		sess.fail()
		_ = w.WriteError(err.Error())
		return StreamResult{Outcome: OutcomeProviderError, Err: err}, true
	}
	sess.pendingToolCalls[call.ID] = call

	content, toolErr := executeTool(s.searcher, call, s.toolLimit)
	s.metrics.ToolCall(toolErr == nil)
	if toolErr != nil {
		log.Warn("tool call failed", "tool_call_id", call.ID, "tool", call.Name, "error", toolErr)
	} else {
		log.Debug("tool call answered", "tool_call_id", call.ID, "arguments", call.Arguments)
	}

	if err := w.WriteToolResult(call.ID, content); err != nil {
		return s.transportLost(sess, log, err), true
	}
	if err := conv.SubmitToolResult(call.ID, content); err != nil {
		sess.fail()
		msg := fmt.Sprintf("failed to return tool result: %v", err)
		if werr := w.WriteError(msg); werr != nil {
			return s.transportLost(sess, log, werr), true
		}
		return StreamResult{Outcome: OutcomeProviderError, Err: err}, true
	}
	delete(sess.pendingToolCalls, call.ID)

	if err := sess.transition(PhaseStreaming); err != nil {
		sess.fail()
		_ = w.WriteError(err.Error())
		return StreamResult{Outcome: OutcomeProviderError, Err: err}, true
	}
	return StreamResult{}, false
}

// abort classifies a failure while talking to the provider
func (s *ChatService) abort(parent, ctx context.Context, sess *session, w FrameWriter, log *slog.Logger, err error) StreamResult {
	sess.fail()

	if parent.Err() != nil {
		log.Debug("client disconnected", "error", err)
		return StreamResult{Outcome: OutcomeClientGone, Err: parent.Err()}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn("chat stream timed out", "timeout", s.streamTimeout)
		if werr := w.WriteError(ErrStreamTimedOut.Error()); werr != nil {
			return s.transportLost(sess, log, werr)
		}
		return StreamResult{Outcome: OutcomeTimeout, Err: ErrStreamTimedOut}
	}

	log.Error("llm provider error", "error", err)
	if werr := w.WriteError(err.Error()); werr != nil {
		return s.transportLost(sess, log, werr)
	}
	return StreamResult{Outcome: OutcomeProviderError, Err: err}
}

// transportLost tears the session down after a failed client write.
// There is nobody left to report to, so the error is only logged.
func (s *ChatService) transportLost(sess *session, log *slog.Logger, err error) StreamResult {
	sess.fail()
	log.Debug("client transport lost", "error", err)
	return StreamResult{Outcome: OutcomeClientGone, Err: fmt.Errorf("%w: %v", errTransportWriteErr, err)}
}
