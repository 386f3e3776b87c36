package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/halcyonlabs/halcyon/internal/mcp"
	"github.com/halcyonlabs/halcyon/internal/observability"
	"github.com/halcyonlabs/halcyon/internal/session"
)

type fakeProvider struct {
	lastReq *CompletionRequest
	result  *CompletionResult
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req *CompletionRequest) (*CompletionResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeBinder struct {
	conns       []*mcp.Conn
	closeCalled bool
}

func (f *fakeBinder) ConnectAll(context.Context, []mcp.ProviderSpec, time.Duration) []*mcp.Conn {
	return f.conns
}

func (f *fakeBinder) CloseAll([]*mcp.Conn, time.Duration) {
	f.closeCalled = true
}

type fakePre struct {
	out string
	err error
}

func (f *fakePre) Process(_ context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.out != "" {
		return f.out, nil
	}
	return text, nil
}

type fakeFetcher struct {
	content string
	err     error
}

func (f *fakeFetcher) Fetch(context.Context, string) (string, error) {
	return f.content, f.err
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}

func (failingBackend) Delete(context.Context, string) error {
	return errors.New("backend down")
}

func newTestOrchestrator(provider *fakeProvider, binder *fakeBinder, backend session.Backend) *Orchestrator {
	if backend == nil {
		backend = session.NewMemoryBackend()
	}
	store := session.NewStore(backend, session.Options{MaxItems: 10, TTL: time.Hour})
	return New(provider, store, binder, nil, &fakePre{}, &fakeFetcher{}, nil, Config{})
}

func TestRunSuccessPersistsHistory(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{
		Content: "the answer",
		Items: []session.Item{
			{Role: "assistant", Content: "lookup", Kind: session.KindToolCall},
			{Role: "assistant", Content: "the answer", Kind: session.KindMessage},
		},
	}}
	binder := &fakeBinder{}
	o := newTestOrchestrator(provider, binder, nil)

	key := session.ThreadKey{AnchorMessageID: 1, ChatID: 2}
	resp, err := o.Run(context.Background(), Turn{Key: key, Text: "question"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "the answer" {
		t.Errorf("content = %q, want %q", resp.Content, "the answer")
	}
	if resp.Title == "" {
		t.Error("title is empty")
	}
	if !binder.closeCalled {
		t.Error("connections were not closed")
	}

	// Persisted history is filtered: user turn + assistant turn only.
	got := o.Sessions().Load(context.Background(), key)
	if len(got) != 2 {
		t.Fatalf("persisted %d items, want 2", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "assistant" {
		t.Errorf("unexpected persisted roles: %+v", got)
	}
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Errorf("persisted items are not sequentially numbered: %+v", got)
	}
}

func TestRunLoadsPriorHistory(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{
		Content: "ok",
		Items:   []session.Item{{Role: "assistant", Content: "ok", Kind: session.KindMessage}},
	}}
	o := newTestOrchestrator(provider, &fakeBinder{}, nil)

	key := session.ThreadKey{AnchorMessageID: 3, ChatID: 4}
	o.Sessions().Append(context.Background(), key, []session.Item{
		{Role: "user", Content: "earlier question", Kind: session.KindMessage},
		{Role: "assistant", Content: "earlier answer", Kind: session.KindMessage},
	})

	if _, err := o.Run(context.Background(), Turn{Key: key, Text: "follow-up"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The model sees prior history plus the new turn, newest last.
	if len(provider.lastReq.History) != 3 {
		t.Fatalf("model saw %d history items, want 3", len(provider.lastReq.History))
	}
	if provider.lastReq.History[2].Content != "follow-up" {
		t.Errorf("last item = %q, want the new turn", provider.lastReq.History[2].Content)
	}
}

func TestRunModelFailureIsFatal(t *testing.T) {
	provider := &fakeProvider{err: errors.New("rate limited")}
	binder := &fakeBinder{}
	o := newTestOrchestrator(provider, binder, nil)

	key := session.ThreadKey{AnchorMessageID: 5, ChatID: 6}
	if _, err := o.Run(context.Background(), Turn{Key: key, Text: "question"}); err == nil {
		t.Fatal("expected error when the model fails")
	}
	if !binder.closeCalled {
		t.Error("connections were not closed after model failure")
	}
	if got := o.Sessions().Load(context.Background(), key); len(got) != 0 {
		t.Errorf("persisted %d items after a failed run, want 0", len(got))
	}
}

func TestRunEmptyModelOutputIsError(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{Content: ""}}
	o := newTestOrchestrator(provider, &fakeBinder{}, nil)

	if _, err := o.Run(context.Background(), Turn{Key: session.ThreadKey{AnchorMessageID: 1, ChatID: 1}, Text: "q"}); err == nil {
		t.Fatal("expected error for empty model output")
	}
}

func TestRunSurvivesBackendOutage(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{
		Content: "still works",
		Items:   []session.Item{{Role: "assistant", Content: "still works", Kind: session.KindMessage}},
	}}
	o := newTestOrchestrator(provider, &fakeBinder{}, failingBackend{})

	resp, err := o.Run(context.Background(), Turn{Key: session.ThreadKey{AnchorMessageID: 1, ChatID: 1}, Text: "q"})
	if err != nil {
		t.Fatalf("run failed with a down backend: %v", err)
	}
	if resp.Content != "still works" {
		t.Errorf("content = %q, want %q", resp.Content, "still works")
	}
}

func TestRunZeroToolsIsDegradedNotFatal(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{
		Content: "unassisted answer",
		Items:   []session.Item{{Role: "assistant", Content: "unassisted answer", Kind: session.KindMessage}},
	}}
	o := newTestOrchestrator(provider, &fakeBinder{conns: nil}, nil)

	if _, err := o.Run(context.Background(), Turn{Key: session.ThreadKey{AnchorMessageID: 1, ChatID: 1}, Text: "q"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.lastReq.Tools) != 0 {
		t.Errorf("model saw %d tools, want 0", len(provider.lastReq.Tools))
	}
	if provider.lastReq.Invoke != nil {
		t.Error("invoker must be nil when no tools are bound")
	}
}

func TestRunInjectsFetchedContent(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{
		Content: "summarized",
		Items:   []session.Item{{Role: "assistant", Content: "summarized", Kind: session.KindMessage}},
	}}
	store := session.NewStore(session.NewMemoryBackend(), session.Options{MaxItems: 10, TTL: time.Hour})
	o := New(provider, store, &fakeBinder{}, nil,
		&fakePre{out: "condensed page"},
		&fakeFetcher{content: "full page text"},
		nil, Config{})

	turn := Turn{
		Key:  session.ThreadKey{AnchorMessageID: 1, ChatID: 1},
		Text: "what does https://example.com/article say?",
	}
	if _, err := o.Run(context.Background(), turn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := provider.lastReq.History[len(provider.lastReq.History)-1].Content
	if !strings.Contains(sent, "condensed page") {
		t.Errorf("model input missing condensed content: %q", sent)
	}
	if strings.Contains(sent, "https://example.com/article\n") {
		t.Errorf("bare url was not replaced: %q", sent)
	}
}

func TestRunFetchFailureKeepsOriginalText(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{
		Content: "ok",
		Items:   []session.Item{{Role: "assistant", Content: "ok", Kind: session.KindMessage}},
	}}
	store := session.NewStore(session.NewMemoryBackend(), session.Options{MaxItems: 10, TTL: time.Hour})
	o := New(provider, store, &fakeBinder{}, nil,
		&fakePre{},
		&fakeFetcher{err: errors.New("connection refused")},
		nil, Config{})

	text := "see https://example.com/down"
	turn := Turn{Key: session.ThreadKey{AnchorMessageID: 1, ChatID: 1}, Text: text}
	if _, err := o.Run(context.Background(), turn); err != nil {
		t.Fatalf("fetch failure must not be fatal: %v", err)
	}

	sent := provider.lastReq.History[len(provider.lastReq.History)-1].Content
	if sent != text {
		t.Errorf("turn text changed despite fetch failure: %q", sent)
	}
}

func TestRunPreprocessFailureFallsBackTruncated(t *testing.T) {
	provider := &fakeProvider{result: &CompletionResult{
		Content: "ok",
		Items:   []session.Item{{Role: "assistant", Content: "ok", Kind: session.KindMessage}},
	}}
	store := session.NewStore(session.NewMemoryBackend(), session.Options{MaxItems: 10, TTL: time.Hour})
	o := New(provider, store, &fakeBinder{}, nil,
		&fakePre{err: errors.New("condenser down")},
		&fakeFetcher{content: strings.Repeat("x", 500)},
		nil, Config{FallbackChars: 100})

	turn := Turn{Key: session.ThreadKey{AnchorMessageID: 1, ChatID: 1}, Text: "read https://example.com/big"}
	if _, err := o.Run(context.Background(), turn); err != nil {
		t.Fatalf("preprocess failure must not be fatal: %v", err)
	}

	sent := provider.lastReq.History[len(provider.lastReq.History)-1].Content
	if !strings.Contains(sent, strings.Repeat("x", 100)) {
		t.Error("truncated raw content missing from model input")
	}
	if strings.Contains(sent, strings.Repeat("x", 101)) {
		t.Error("fallback content was not truncated")
	}
}

func TestRunEmitsStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := observability.NewTracerFromProvider(tp, "test")

	provider := &fakeProvider{result: &CompletionResult{
		Content: "ok",
		Items:   []session.Item{{Role: "assistant", Content: "ok", Kind: session.KindMessage}},
	}}
	store := session.NewStore(session.NewMemoryBackend(), session.Options{MaxItems: 10, TTL: time.Hour})
	o := New(provider, store, &fakeBinder{}, nil, &fakePre{}, &fakeFetcher{}, nil, Config{Tracer: tracer})

	if _, err := o.Run(context.Background(), Turn{Key: session.ThreadKey{AnchorMessageID: 1, ChatID: 2}, Text: "q"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := make(map[string]bool)
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	for _, want := range []string{"agent.turn", "session.load", "links.expand", "tools.connect", "model.complete", "session.persist"} {
		if !names[want] {
			t.Errorf("span %q was not recorded; got %v", want, names)
		}
	}
}

func TestRunModelFailureMarksSpanError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := observability.NewTracerFromProvider(tp, "test")

	provider := &fakeProvider{err: errors.New("rate limited")}
	store := session.NewStore(session.NewMemoryBackend(), session.Options{MaxItems: 10, TTL: time.Hour})
	o := New(provider, store, &fakeBinder{}, nil, &fakePre{}, &fakeFetcher{}, nil, Config{Tracer: tracer})

	if _, err := o.Run(context.Background(), Turn{Key: session.ThreadKey{AnchorMessageID: 1, ChatID: 2}, Text: "q"}); err == nil {
		t.Fatal("expected error when the model fails")
	}

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "model.complete" {
			continue
		}
		found = true
		if span.Status().Code != codes.Error {
			t.Errorf("span status = %v, want Error", span.Status().Code)
		}
	}
	if !found {
		t.Error("no model.complete span recorded")
	}
}
