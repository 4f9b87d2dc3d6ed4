package metering

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/alecgard/tokentrack/internal/inference"
	"github.com/alecgard/tokentrack/internal/pricing"
	"github.com/alecgard/tokentrack/internal/tokenizer"
	"github.com/shopspring/decimal"
)

// Resolver picks the invoker for a model identifier.
type Resolver interface {
	Resolve(model string) inference.Invoker
}

// Observer receives the outcome of every processed prompt. It exists so the
// metrics package can be plugged in without metering importing it.
type Observer interface {
	ObserveInference(strategy inference.Strategy, elapsed time.Duration, kind inference.ErrorKind)
	ObservePrompt(rec *Record)
}

// Processor turns a prompt into a usage record by estimating tokens, calling
// the model and pricing the result.
type Processor struct {
	resolver Resolver
	prices   *pricing.Table
	observer Observer
	now      func() time.Time
}

// NewProcessor creates a Processor. prices may be nil, in which case the
// built-in price table is used.
func NewProcessor(resolver Resolver, prices *pricing.Table) *Processor {
	if prices == nil {
		prices = pricing.DefaultTable()
	}
	return &Processor{
		resolver: resolver,
		prices:   prices,
		now:      time.Now,
	}
}

// SetObserver attaches an observer notified after every Process call.
func (p *Processor) SetObserver(o Observer) {
	p.observer = o
}

// Process runs prompt against model. It never returns an error: invocation
// failures are recorded as status=error with the failure message. The
// returned record has no ID or owner; the caller persists it.
func (p *Processor) Process(ctx context.Context, prompt, model string) Record {
	start := p.now()

	rec := Record{
		Prompt:        prompt,
		Model:         model,
		PromptTokens:  tokenizer.Estimate(prompt),
		EstimatedCost: decimal.Zero,
	}

	invoker := p.resolver.Resolve(model)
	callStart := p.now()
	response, err := invoker.Invoke(ctx, prompt)
	callElapsed := p.now().Sub(callStart)

	if err != nil {
		rec.Status = StatusError
		rec.ErrorMessage = err.Error()
		rec.TotalTokens = rec.PromptTokens
		slog.Warn("model invocation failed",
			"model", model,
			"strategy", invoker.Strategy(),
			"kind", inference.KindOf(err),
			"error", err,
		)
	} else {
		response = truncateChars(response, MaxResponseChars)
		rec.Status = StatusSuccess
		rec.Response = response
		rec.CompletionTokens = tokenizer.Estimate(response)
		rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
		rec.EstimatedCost = p.prices.Cost(model, rec.PromptTokens, rec.CompletionTokens)
	}

	end := p.now()
	rec.ResponseTime = end.Sub(start).Milliseconds()
	rec.CreatedAt = end.UTC().Truncate(TimestampPrecision)

	if p.observer != nil {
		var kind inference.ErrorKind
		if err != nil {
			kind = inference.KindOf(err)
		}
		p.observer.ObserveInference(invoker.Strategy(), callElapsed, kind)
		p.observer.ObservePrompt(&rec)
	}

	return rec
}

// Normalize recomputes the derived fields of a manually submitted record so
// that totals and cost are consistent with its token counts.
func (p *Processor) Normalize(rec *Record) {
	if rec.PromptTokens < 0 {
		rec.PromptTokens = 0
	}
	if rec.CompletionTokens < 0 {
		rec.CompletionTokens = 0
	}
	if rec.ResponseTime < 0 {
		rec.ResponseTime = 0
	}
	if rec.Status == "" {
		rec.Status = StatusSuccess
	}
	rec.Response = truncateChars(rec.Response, MaxResponseChars)

	if rec.Status == StatusError {
		rec.Response = ""
		rec.CompletionTokens = 0
		rec.EstimatedCost = decimal.Zero
	} else {
		rec.EstimatedCost = p.prices.Cost(rec.Model, rec.PromptTokens, rec.CompletionTokens)
	}
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
}

func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
