// Package inference produces model responses for prompts. Each model in the
// catalog is bound to one strategy when the Router is built: a local
// simulator for hosted chat models, or the Hugging Face inference API.
package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Strategy identifies how a model's responses are produced.
type Strategy string

const (
	StrategySimulated   Strategy = "simulated"
	StrategyHuggingFace Strategy = "huggingface"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategySimulated || s == StrategyHuggingFace
}

// Invoker produces a response for a prompt.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
	Strategy() Strategy
}

// ErrorKind classifies an invocation failure.
type ErrorKind string

const (
	KindStatus     ErrorKind = "status"      // remote returned a non-2xx status
	KindTimeout    ErrorKind = "timeout"     // deadline exceeded
	KindCanceled   ErrorKind = "canceled"    // caller went away
	KindNoResponse ErrorKind = "no_response" // transport failure, nothing came back
	KindRequest    ErrorKind = "request"     // request could not be built
	KindMalformed  ErrorKind = "malformed"   // response had an unexpected shape
)

// InvocationError is returned by invokers for every failure. Its message is
// what ends up in a usage record's errorMessage.
type InvocationError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *InvocationError) Error() string {
	return e.Message
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or "" if err is not an
// InvocationError.
func KindOf(err error) ErrorKind {
	var ie *InvocationError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// classifyTransportError categorizes an error returned by an HTTP round trip
// or a context wait.
func classifyTransportError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNoResponse
}

// Model is a catalog entry describing one selectable model.
type Model struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	MaxTokens         int      `json:"maxTokens"`
	SupportsStreaming bool     `json:"supportsStreaming"`
	Strategy          Strategy `json:"-"`
	HFModel           string   `json:"-"`
}

// Router resolves model identifiers to invokers. The mapping is fixed at
// construction; unknown identifiers resolve to the fallback invoker.
type Router struct {
	models   []Model
	routes   map[string]Invoker
	fallback Invoker
}

// NewRouter binds each model to its strategy. hf may be nil only if no model
// uses the Hugging Face strategy and fallbackRepo is empty; in that case
// unknown models resolve to the simulator.
func NewRouter(models []Model, sim *Simulator, hf *HuggingFace, fallbackRepo string) (*Router, error) {
	r := &Router{
		models: append([]Model(nil), models...),
		routes: make(map[string]Invoker, len(models)),
	}

	for _, m := range models {
		if _, dup := r.routes[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		switch m.Strategy {
		case StrategySimulated:
			if sim == nil {
				return nil, fmt.Errorf("model %q needs the simulator, which is not configured", m.ID)
			}
			r.routes[m.ID] = sim
		case StrategyHuggingFace:
			if hf == nil {
				return nil, fmt.Errorf("model %q needs the Hugging Face client, which is not configured", m.ID)
			}
			if m.HFModel == "" {
				return nil, fmt.Errorf("model %q has no Hugging Face repository", m.ID)
			}
			r.routes[m.ID] = hf.ForModel(m.HFModel)
		default:
			return nil, fmt.Errorf("model %q has unknown strategy %q", m.ID, m.Strategy)
		}
	}

	switch {
	case hf != nil && fallbackRepo != "":
		r.fallback = hf.ForModel(fallbackRepo)
	case sim != nil:
		r.fallback = sim
	default:
		return nil, fmt.Errorf("no fallback invoker available")
	}

	return r, nil
}

// Resolve returns the invoker bound to model.
func (r *Router) Resolve(model string) Invoker {
	if inv, ok := r.routes[model]; ok {
		return inv
	}
	return r.fallback
}

// Models returns the catalog in configuration order.
func (r *Router) Models() []Model {
	return append([]Model(nil), r.models...)
}

// Has reports whether model is part of the catalog.
func (r *Router) Has(model string) bool {
	_, ok := r.routes[model]
	return ok
}
