package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"lawchat-backend/corpus"
	"lawchat-backend/models"
	"lawchat-backend/provider"
	"lawchat-backend/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted response from fakeConversation.Next
type step struct {
	unit  provider.Unit
	err   error
	block bool // wait for ctx cancellation
}

type fakeConversation struct {
	mu        sync.Mutex
	steps     []step
	submitted map[string]string
	submitErr error
	closed    int
}

func (c *fakeConversation) Next(ctx context.Context) (provider.Unit, error) {
	c.mu.Lock()
	if len(c.steps) == 0 {
		c.mu.Unlock()
		return provider.Unit{}, io.EOF
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	c.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return provider.Unit{}, ctx.Err()
	}
	return s.unit, s.err
}

func (c *fakeConversation) SubmitToolResult(callID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return c.submitErr
	}
	if c.submitted == nil {
		c.submitted = make(map[string]string)
	}
	c.submitted[callID] = content
	return nil
}

func (c *fakeConversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type fakeProvider struct {
	conv     *fakeConversation
	startErr error
	started  provider.StartRequest
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Start(_ context.Context, req provider.StartRequest) (provider.Conversation, error) {
	p.started = req
	if p.startErr != nil {
		return nil, p.startErr
	}
	return p.conv, nil
}

func (p *fakeProvider) Ping(context.Context) error { return nil }

type frame struct {
	kind    string
	content string
	callID  string
}

// recordingWriter captures frames; failAt makes the n-th write (1-based) fail
type recordingWriter struct {
	frames []frame
	failAt int
	writes int
}

func (w *recordingWriter) write(f frame) error {
	w.writes++
	if w.failAt > 0 && w.writes >= w.failAt {
		return errors.New("broken pipe")
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *recordingWriter) WriteContent(content string) error {
	return w.write(frame{kind: "content", content: content})
}

func (w *recordingWriter) WriteToolResult(callID, content string) error {
	return w.write(frame{kind: "tool_result", callID: callID, content: content})
}

func (w *recordingWriter) WriteDone() error {
	return w.write(frame{kind: "done"})
}

func (w *recordingWriter) WriteError(message string) error {
	return w.write(frame{kind: "error", content: message})
}

func (w *recordingWriter) kinds() []string {
	out := make([]string, len(w.frames))
	for i, f := range w.frames {
		out[i] = f.kind
	}
	return out
}

func testEngine(t *testing.T) *search.Engine {
	t.Helper()
	c, err := corpus.New([]models.Article{
		{Number: 1, Title: "Name of the State", BodyText: "The state shall be a republic.", Tags: []string{"state"}},
		{Number: 9, Title: "Bill of Rights", BodyText: "This article protects fundamental rights.", Tags: []string{"bill of rights", "human rights"}},
		{Number: 25, Title: "Equality of Citizens", BodyText: "All citizens are equal before law.", Tags: []string{"equality"}},
		{Number: 26, Title: "Non-discrimination", BodyText: "No discrimination in access to public places.", Tags: []string{"equality"}},
		{Number: 27, Title: "Safeguard in Services", BodyText: "No citizen shall be discriminated in appointments.", Tags: []string{"services"}},
		{Number: 28, Title: "Preservation of Language", BodyText: "Any section of citizens may preserve its language.", Tags: []string{"culture"}},
		{Number: 29, Title: "Freedom of Religion", BodyText: "Citizens may profess any religion.", Tags: []string{"religion"}},
	})
	require.NoError(t, err)
	return search.NewEngine(c)
}

func content(s string) step {
	return step{unit: provider.Unit{Kind: provider.UnitContent, Content: s}}
}

func toolCall(id, name, args string) step {
	return step{unit: provider.Unit{
		Kind:     provider.UnitToolCall,
		ToolCall: provider.ToolCall{ID: id, Name: name, Arguments: args},
	}}
}

func userRequest(text string) *models.ChatRequest {
	return &models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: text}}}
}

func TestStream_ContentThenDone(t *testing.T) {
	conv := &fakeConversation{steps: []step{content("Hello"), content(", world")}}
	p := &fakeProvider{conv: conv}
	svc := NewChatService(ChatWithProvider(p), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("hi"), w)

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.NoError(t, res.Err)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, []string{"content", "content", "done"}, w.kinds())
	assert.Equal(t, "Hello", w.frames[0].content)
	assert.Equal(t, 1, conv.closed)

	assert.Equal(t, SystemInstruction, p.started.System)
	require.Len(t, p.started.Tools, 1)
	assert.Equal(t, SearchToolName, p.started.Tools[0].Name)
}

func TestStream_ToolCallDirectLookupEmitsOnlyThatArticle(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		content("Let me check. "),
		toolCall("call_1", SearchToolName, `{"query":"25"}`),
		content("Article 25 guarantees equality."),
	}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("What does article 25 say?"), w)

	require.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, []string{"content", "tool_result", "content", "done"}, w.kinds())

	tr := w.frames[1]
	assert.Equal(t, "call_1", tr.callID)
	var articles []models.Article
	require.NoError(t, json.Unmarshal([]byte(tr.content), &articles))
	require.Len(t, articles, 1)
	assert.Equal(t, 25, articles[0].Number)

	assert.Equal(t, tr.content, conv.submitted["call_1"])
}

func TestStream_ToolCallMissingArticleEmitsEmptyArray(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		toolCall("call_1", SearchToolName, `{"query":"article 999"}`),
		content("No such article."),
	}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("article 999?"), w)

	require.Equal(t, OutcomeDone, res.Outcome)
	require.Equal(t, "tool_result", w.frames[0].kind)
	assert.JSONEq(t, `[]`, w.frames[0].content)
}

func TestStream_MalformedToolArgumentsContinueConversation(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		toolCall("call_1", SearchToolName, `{"query":`),
		content("Sorry, let me try again."),
	}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("equality"), w)

	require.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, []string{"tool_result", "content", "done"}, w.kinds())

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(w.frames[0].content), &payload))
	assert.Contains(t, payload["error"], "invalid tool arguments")
	assert.Equal(t, w.frames[0].content, conv.submitted["call_1"])
}

func TestStream_UnknownToolReturnsErrorResult(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		toolCall("call_x", "delete_everything", `{}`),
	}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("hi"), w)

	require.Equal(t, OutcomeDone, res.Outcome)
	require.Equal(t, "tool_result", w.frames[0].kind)
	assert.Contains(t, w.frames[0].content, "unknown tool")
}

func TestStream_ToolDefaultLimitApplies(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		toolCall("call_1", SearchToolName, `{"query":"citizens"}`),
	}}
	svc := NewChatService(
		ChatWithProvider(&fakeProvider{conv: conv}),
		ChatWithSearcher(testEngine(t)),
		ChatWithToolDefaultLimit(2),
	)
	w := &recordingWriter{}

	svc.Stream(context.Background(), userRequest("citizens"), w)

	var articles []models.Article
	require.NoError(t, json.Unmarshal([]byte(w.frames[0].content), &articles))
	assert.Len(t, articles, 2)
}

func TestStream_ExplicitToolLimitOverridesDefault(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		toolCall("call_1", SearchToolName, `{"query":"citizens","limit":1}`),
	}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	svc.Stream(context.Background(), userRequest("citizens"), w)

	var articles []models.Article
	require.NoError(t, json.Unmarshal([]byte(w.frames[0].content), &articles))
	assert.Len(t, articles, 1)
}

func TestStream_ProviderErrorEmitsTerminalErrorFrame(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		content("partial"),
		{err: errors.New("upstream reset")},
		content("never sent"),
	}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("hi"), w)

	assert.Equal(t, OutcomeProviderError, res.Outcome)
	assert.Equal(t, PhaseError, res.Phase)
	assert.Equal(t, []string{"content", "error"}, w.kinds())
	assert.Equal(t, "upstream reset", w.frames[1].content)
	assert.Equal(t, 1, conv.closed)
}

func TestStream_StartFailureEmitsErrorFrame(t *testing.T) {
	p := &fakeProvider{startErr: errors.New("invalid api key")}
	svc := NewChatService(ChatWithProvider(p), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("hi"), w)

	assert.Equal(t, OutcomeProviderError, res.Outcome)
	assert.Equal(t, PhaseError, res.Phase)
	require.Len(t, w.frames, 1)
	assert.Equal(t, "error", w.frames[0].kind)
	assert.Equal(t, "invalid api key", w.frames[0].content)
}

func TestStream_WriteFailureTearsDownSession(t *testing.T) {
	conv := &fakeConversation{steps: []step{content("a"), content("b"), content("c")}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{failAt: 2}

	res := svc.Stream(context.Background(), userRequest("hi"), w)

	assert.Equal(t, OutcomeClientGone, res.Outcome)
	assert.Equal(t, PhaseError, res.Phase)
	assert.Len(t, w.frames, 1)
	assert.Equal(t, 1, conv.closed)
	assert.Len(t, conv.steps, 1, "provider must not be drained after the client is gone")
}

func TestStream_ClientCancelWritesNothing(t *testing.T) {
	conv := &fakeConversation{steps: []step{content("a"), {block: true}}}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan StreamResult, 1)
	go func() {
		done <- svc.Stream(ctx, userRequest("hi"), w)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.Equal(t, OutcomeClientGone, res.Outcome)
		assert.Equal(t, []string{"content"}, w.kinds())
		assert.Equal(t, 1, conv.closed)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestStream_TimeoutEmitsErrorFrame(t *testing.T) {
	conv := &fakeConversation{steps: []step{{block: true}}}
	svc := NewChatService(
		ChatWithProvider(&fakeProvider{conv: conv}),
		ChatWithSearcher(testEngine(t)),
		ChatWithStreamTimeout(10*time.Millisecond),
	)
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("hi"), w)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrStreamTimedOut)
	require.Len(t, w.frames, 1)
	assert.Equal(t, "error", w.frames[0].kind)
}

func TestStream_ToolCallLimit(t *testing.T) {
	var steps []step
	for i := 0; i < 3; i++ {
		steps = append(steps, toolCall("call", SearchToolName, `{"query":"rights"}`))
	}
	conv := &fakeConversation{steps: steps}
	svc := NewChatService(
		ChatWithProvider(&fakeProvider{conv: conv}),
		ChatWithSearcher(testEngine(t)),
		ChatWithMaxToolCalls(2),
	)
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("rights"), w)

	assert.Equal(t, OutcomeToolLimit, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrTooManyToolCalls)
	assert.Equal(t, []string{"tool_result", "tool_result", "error"}, w.kinds())
}

func TestStream_SubmitFailureIsProviderError(t *testing.T) {
	conv := &fakeConversation{
		steps:     []step{toolCall("call_1", SearchToolName, `{"query":"25"}`)},
		submitErr: provider.ErrUnknownToolCall,
	}
	svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("25"), w)

	assert.Equal(t, OutcomeProviderError, res.Outcome)
	assert.ErrorIs(t, res.Err, provider.ErrUnknownToolCall)
	assert.Equal(t, []string{"tool_result", "error"}, w.kinds())
}

func TestStream_PhaseSequence(t *testing.T) {
	conv := &fakeConversation{steps: []step{
		content("x"),
		toolCall("call_1", SearchToolName, `{"query":"25"}`),
		content("y"),
	}}

	var phases []string
	observer := func(_ string, from, to Phase) {
		phases = append(phases, from.String()+">"+to.String())
	}
	svc := NewChatService(
		ChatWithProvider(&fakeProvider{conv: conv}),
		ChatWithSearcher(testEngine(t)),
		ChatWithPhaseObserver(observer),
	)

	svc.Stream(context.Background(), userRequest("25"), &recordingWriter{})

	assert.Equal(t, []string{
		"idle>streaming",
		"streaming>awaiting_tool_result",
		"awaiting_tool_result>streaming",
		"streaming>done",
	}, phases)
}

func TestStream_NotReady(t *testing.T) {
	svc := NewChatService(ChatWithSearcher(testEngine(t)))
	w := &recordingWriter{}

	res := svc.Stream(context.Background(), userRequest("hi"), w)

	assert.ErrorIs(t, res.Err, ErrProviderNotSet)
	assert.Equal(t, []string{"error"}, w.kinds())
}

func TestStream_ConcurrentSessionsAreIndependent(t *testing.T) {
	engine := testEngine(t)

	var wg sync.WaitGroup
	results := make([]StreamResult, 20)
	writers := make([]*recordingWriter, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv := &fakeConversation{steps: []step{
				toolCall("call_1", SearchToolName, `{"query":"25"}`),
				content("ok"),
			}}
			if i%2 == 1 {
				conv.steps = append(conv.steps, step{err: errors.New("boom")})
			}
			svc := NewChatService(ChatWithProvider(&fakeProvider{conv: conv}), ChatWithSearcher(engine))
			writers[i] = &recordingWriter{}
			results[i] = svc.Stream(context.Background(), userRequest("25"), writers[i])
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, res := range results {
		assert.False(t, seen[res.SessionID], "session ids must be unique")
		seen[res.SessionID] = true
		if i%2 == 1 {
			assert.Equal(t, OutcomeProviderError, res.Outcome)
		} else {
			assert.Equal(t, OutcomeDone, res.Outcome)
		}
	}
}

func TestNewChatService_Defaults(t *testing.T) {
	svc := NewChatService(ChatWithMaxToolCalls(0), ChatWithToolDefaultLimit(-1))
	assert.Equal(t, DefaultMaxToolCalls, svc.maxToolCalls)
	assert.Equal(t, DefaultToolLimit, svc.toolLimit)
	assert.Equal(t, "", svc.ProviderName())
	assert.ErrorIs(t, svc.Ping(context.Background()), ErrProviderNotSet)
}
