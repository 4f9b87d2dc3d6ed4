package metering

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/tokentrack/internal/inference"
	"github.com/alecgard/tokentrack/internal/pricing"
	"github.com/alecgard/tokentrack/internal/tokenizer"
	"github.com/shopspring/decimal"
)

type fixedRand struct{ n int }

func (f fixedRand) IntN(int) int { return f.n }

// stubInvoker returns a canned response or error.
type stubInvoker struct {
	response string
	err      error
	strategy inference.Strategy
	prompts  []string
}

func (s *stubInvoker) Invoke(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.response, s.err
}

func (s *stubInvoker) Strategy() inference.Strategy { return s.strategy }

type stubResolver struct {
	inv    inference.Invoker
	models []string
}

func (r *stubResolver) Resolve(model string) inference.Invoker {
	r.models = append(r.models, model)
	return r.inv
}

// steppingClock advances by step on every call.
type steppingClock struct {
	t    time.Time
	step time.Duration
}

func (c *steppingClock) now() time.Time {
	cur := c.t
	c.t = c.t.Add(c.step)
	return cur
}

type recordingObserver struct {
	strategies []inference.Strategy
	kinds      []inference.ErrorKind
	records    []Record
}

func (o *recordingObserver) ObserveInference(s inference.Strategy, _ time.Duration, kind inference.ErrorKind) {
	o.strategies = append(o.strategies, s)
	o.kinds = append(o.kinds, kind)
}

func (o *recordingObserver) ObservePrompt(rec *Record) {
	o.records = append(o.records, *rec)
}

func TestProcess_SimulatedSuccess(t *testing.T) {
	sim := inference.NewSimulator(0, fixedRand{0})
	router, err := inference.NewRouter([]inference.Model{
		{ID: "gpt-3.5-turbo", Strategy: inference.StrategySimulated},
	}, sim, nil, "")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	p := NewProcessor(router, pricing.DefaultTable())
	rec := p.Process(context.Background(), "Hello world", "gpt-3.5-turbo")

	if rec.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", rec.Status, rec.ErrorMessage)
	}
	if rec.PromptTokens < 1 {
		t.Errorf("expected promptTokens >= 1, got %d", rec.PromptTokens)
	}
	if rec.CompletionTokens < 1 {
		t.Errorf("expected completionTokens >= 1, got %d", rec.CompletionTokens)
	}
	if rec.TotalTokens != rec.PromptTokens+rec.CompletionTokens {
		t.Errorf("totalTokens %d != %d + %d", rec.TotalTokens, rec.PromptTokens, rec.CompletionTokens)
	}
	if !rec.EstimatedCost.IsPositive() {
		t.Errorf("expected positive cost, got %s", rec.EstimatedCost)
	}
	if !strings.Contains(rec.Response, "Hello world") {
		t.Errorf("expected response to echo the prompt, got %q", rec.Response)
	}
	if rec.ErrorMessage != "" {
		t.Errorf("expected no error message, got %q", rec.ErrorMessage)
	}
}

func TestProcess_RemoteFailureProducesErrorRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer srv.Close()

	hf := inference.NewHuggingFace(inference.HuggingFaceConfig{
		BaseURL: srv.URL,
		APIKey:  "hf_test",
		Timeout: 5 * time.Second,
	})
	router, err := inference.NewRouter([]inference.Model{
		{ID: "mistral-7b", Strategy: inference.StrategyHuggingFace, HFModel: "mistralai/Mistral-7B-Instruct-v0.1"},
	}, nil, hf, "microsoft/DialoGPT-large")
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	obs := &recordingObserver{}
	p := NewProcessor(router, nil)
	p.SetObserver(obs)
	rec := p.Process(context.Background(), "Explain quantum computing", "mistral-7b")

	if rec.Status != StatusError {
		t.Fatalf("expected error status, got %s", rec.Status)
	}
	if rec.CompletionTokens != 0 {
		t.Errorf("expected 0 completion tokens, got %d", rec.CompletionTokens)
	}
	if !rec.EstimatedCost.IsZero() {
		t.Errorf("expected zero cost, got %s", rec.EstimatedCost)
	}
	if rec.Response != "" {
		t.Errorf("expected empty response, got %q", rec.Response)
	}
	if rec.PromptTokens != tokenizer.Estimate("Explain quantum computing") {
		t.Errorf("expected prompt tokens to be reported, got %d", rec.PromptTokens)
	}
	if rec.TotalTokens != rec.PromptTokens {
		t.Errorf("expected totalTokens == promptTokens on error, got %d", rec.TotalTokens)
	}
	if !strings.Contains(rec.ErrorMessage, "Hugging Face API error: 500") {
		t.Errorf("expected status error message, got %q", rec.ErrorMessage)
	}

	if len(obs.kinds) != 1 || obs.kinds[0] != inference.KindStatus {
		t.Errorf("expected observer to see one status failure, got %v", obs.kinds)
	}
	if len(obs.strategies) != 1 || obs.strategies[0] != inference.StrategyHuggingFace {
		t.Errorf("expected huggingface strategy, got %v", obs.strategies)
	}
}

func TestProcess_TimingAndTimestamp(t *testing.T) {
	inv := &stubInvoker{response: "ok", strategy: inference.StrategySimulated}
	p := NewProcessor(&stubResolver{inv: inv}, nil)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &steppingClock{t: t0, step: 250 * time.Millisecond}
	p.now = clock.now

	rec := p.Process(context.Background(), "hi", "gpt-4")

	if rec.ResponseTime != 750 {
		t.Errorf("expected responseTime 750ms, got %d", rec.ResponseTime)
	}
	if want := t0.Add(750 * time.Millisecond); !rec.CreatedAt.Equal(want) {
		t.Errorf("expected createdAt %v, got %v", want, rec.CreatedAt)
	}
}

func TestProcess_TimestampMicrosecondPrecision(t *testing.T) {
	inv := &stubInvoker{response: "ok", strategy: inference.StrategySimulated}
	p := NewProcessor(&stubResolver{inv: inv}, nil)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	clock := &steppingClock{t: t0, step: time.Millisecond}
	p.now = clock.now

	rec := p.Process(context.Background(), "hi", "gpt-4")

	want := time.Date(2024, 3, 1, 12, 0, 0, 126456000, time.UTC)
	if !rec.CreatedAt.Equal(want) {
		t.Errorf("expected createdAt %v, got %v", want, rec.CreatedAt)
	}
}

func TestProcess_UsesPricingForModel(t *testing.T) {
	inv := &stubInvoker{response: strings.Repeat("word ", 100), strategy: inference.StrategySimulated}
	resolver := &stubResolver{inv: inv}
	prices, err := pricing.NewTable("cheap", map[string]pricing.Price{
		"cheap": pricing.NewPrice(1, 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	p := NewProcessor(resolver, prices)

	rec := p.Process(context.Background(), "some prompt text", "unknown-model")

	want := prices.Cost("cheap", rec.PromptTokens, rec.CompletionTokens)
	if !rec.EstimatedCost.Equal(want) {
		t.Errorf("expected fallback pricing %s, got %s", want, rec.EstimatedCost)
	}
	if len(resolver.models) != 1 || resolver.models[0] != "unknown-model" {
		t.Errorf("expected resolver to be asked for unknown-model, got %v", resolver.models)
	}
	if len(inv.prompts) != 1 || inv.prompts[0] != "some prompt text" {
		t.Errorf("expected prompt forwarded unchanged, got %v", inv.prompts)
	}
}

func TestProcess_TruncatesLongResponse(t *testing.T) {
	inv := &stubInvoker{response: strings.Repeat("é", MaxResponseChars+10), strategy: inference.StrategyHuggingFace}
	p := NewProcessor(&stubResolver{inv: inv}, nil)

	rec := p.Process(context.Background(), "long", "llama-2-70b")

	if n := len([]rune(rec.Response)); n != MaxResponseChars {
		t.Errorf("expected response truncated to %d chars, got %d", MaxResponseChars, n)
	}
	if rec.CompletionTokens != tokenizer.Estimate(rec.Response) {
		t.Errorf("completion tokens should be estimated on the stored response")
	}
}

func TestProcess_CanceledContext(t *testing.T) {
	sim := inference.NewSimulator(time.Hour, fixedRand{0})
	router, err := inference.NewRouter([]inference.Model{
		{ID: "gpt-4", Strategy: inference.StrategySimulated},
	}, sim, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := NewProcessor(router, nil).Process(ctx, "hello", "gpt-4")
	if rec.Status != StatusError {
		t.Fatalf("expected error status for canceled context, got %s", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Error("expected error message")
	}
}

func TestProcess_TotalsInvariant(t *testing.T) {
	prompts := []string{"a", "Hello world", strings.Repeat("lorem ipsum ", 50), "   "}
	responses := []string{"x", "", "a much longer response with several words in it"}
	errs := []error{nil, errors.New("boom")}

	for _, prompt := range prompts {
		for _, resp := range responses {
			for _, e := range errs {
				inv := &stubInvoker{response: resp, err: e, strategy: inference.StrategySimulated}
				rec := NewProcessor(&stubResolver{inv: inv}, nil).Process(context.Background(), prompt, "gpt-4")
				if rec.TotalTokens != rec.PromptTokens+rec.CompletionTokens {
					t.Errorf("prompt=%q resp=%q err=%v: total %d != %d + %d",
						prompt, resp, e, rec.TotalTokens, rec.PromptTokens, rec.CompletionTokens)
				}
				if rec.EstimatedCost.IsNegative() {
					t.Errorf("negative cost %s", rec.EstimatedCost)
				}
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	p := NewProcessor(&stubResolver{}, nil)

	t.Run("success recomputes totals and cost", func(t *testing.T) {
		rec := Record{Model: "gpt-4", PromptTokens: 1000, CompletionTokens: 1000, TotalTokens: 5, EstimatedCost: decimal.NewFromInt(99)}
		p.Normalize(&rec)
		if rec.TotalTokens != 2000 {
			t.Errorf("expected total 2000, got %d", rec.TotalTokens)
		}
		if !rec.EstimatedCost.Equal(decimal.RequireFromString("0.09")) {
			t.Errorf("expected cost 0.09, got %s", rec.EstimatedCost)
		}
		if rec.Status != StatusSuccess {
			t.Errorf("expected default status success, got %s", rec.Status)
		}
	})

	t.Run("error clears completion and cost", func(t *testing.T) {
		rec := Record{Model: "gpt-4", Status: StatusError, Response: "partial", PromptTokens: 10, CompletionTokens: 7}
		p.Normalize(&rec)
		if rec.CompletionTokens != 0 || rec.TotalTokens != 10 || !rec.EstimatedCost.IsZero() || rec.Response != "" {
			t.Errorf("unexpected error record %+v", rec)
		}
	})

	t.Run("negative counts clamp to zero", func(t *testing.T) {
		rec := Record{Model: "gpt-4", PromptTokens: -3, CompletionTokens: -4, ResponseTime: -1}
		p.Normalize(&rec)
		if rec.PromptTokens != 0 || rec.CompletionTokens != 0 || rec.TotalTokens != 0 || rec.ResponseTime != 0 {
			t.Errorf("expected zeroed counts, got %+v", rec)
		}
	})
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusError, StatusPending} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}
