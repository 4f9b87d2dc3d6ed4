package inference

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// RandSource picks an index in [0, n). *rand.Rand from math/rand/v2
// satisfies it.
type RandSource interface {
	IntN(n int) int
}

// globalRand uses the concurrency-safe top-level math/rand/v2 functions.
type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// simulatedTemplate renders a canned response around a prefix of the prompt.
type simulatedTemplate struct {
	prefixLen int
	format    string
}

var simulatedTemplates = []simulatedTemplate{
	{100, `I understand you're asking about: "%s...". This is a simulated response from the AI model.`},
	{50, `Based on your query "%s...", here's what I can share: This is a demonstration response for the token tracking system.`},
	{80, `Thank you for your question. I've processed your request about "%s..." and here's my simulated analysis.`},
}

// Simulator answers prompts with canned text after a fixed delay. It never
// contacts a remote service.
type Simulator struct {
	delay time.Duration
	rand  RandSource
}

// NewSimulator creates a Simulator. A nil src uses the global random source.
func NewSimulator(delay time.Duration, src RandSource) *Simulator {
	if src == nil {
		src = globalRand{}
	}
	return &Simulator{delay: delay, rand: src}
}

// Strategy implements Invoker.
func (s *Simulator) Strategy() Strategy { return StrategySimulated }

// Invoke waits for the configured delay and returns one of the canned
// responses. It fails only if ctx ends first.
func (s *Simulator) Invoke(ctx context.Context, prompt string) (string, error) {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			err := ctx.Err()
			return "", &InvocationError{
				Kind:    classifyTransportError(err),
				Message: fmt.Sprintf("Simulated model call aborted: %v", err),
				Err:     err,
			}
		case <-timer.C:
		}
	}

	tmpl := simulatedTemplates[s.rand.IntN(len(simulatedTemplates))]
	return fmt.Sprintf(tmpl.format, truncateRunes(prompt, tmpl.prefixLen)), nil
}

// truncateRunes returns at most n characters of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
