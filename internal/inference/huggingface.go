package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseSize caps how much of a remote response body is read.
const maxResponseSize = 4 << 20

// Parameters are the generation settings sent with every request.
type Parameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	DoSample     bool    `json:"do_sample"`
}

// HuggingFaceConfig configures the Hugging Face inference client.
type HuggingFaceConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Parameters Parameters
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// HuggingFace calls the Hugging Face inference API.
type HuggingFace struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	params  Parameters
	client  *http.Client
}

// NewHuggingFace creates a client. A zero timeout defaults to 30 seconds.
func NewHuggingFace(cfg HuggingFaceConfig) *HuggingFace {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HuggingFace{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		params:  cfg.Parameters,
		client:  client,
	}
}

// Configured reports whether an API key is set.
func (h *HuggingFace) Configured() bool {
	return h.apiKey != ""
}

// ForModel returns an Invoker that targets the given repository, e.g.
// "mistralai/Mistral-7B-Instruct-v0.1".
func (h *HuggingFace) ForModel(repo string) Invoker {
	return &hfModel{client: h, repo: repo}
}

type hfModel struct {
	client *HuggingFace
	repo   string
}

func (m *hfModel) Strategy() Strategy { return StrategyHuggingFace }

func (m *hfModel) Invoke(ctx context.Context, prompt string) (string, error) {
	return m.client.Generate(ctx, m.repo, prompt)
}

type generateRequest struct {
	Inputs     string     `json:"inputs"`
	Parameters Parameters `json:"parameters"`
}

type generateCandidate struct {
	GeneratedText string `json:"generated_text"`
}

// Generate posts prompt to the repository endpoint and returns the first
// candidate's generated text.
func (h *HuggingFace) Generate(ctx context.Context, repo, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	body, err := json.Marshal(generateRequest{Inputs: prompt, Parameters: h.params})
	if err != nil {
		return "", requestError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/"+repo, bytes.NewReader(body))
	if err != nil {
		return "", requestError(err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		kind := classifyTransportError(err)
		msg := "No response received from Hugging Face API"
		if kind == KindTimeout {
			msg = fmt.Sprintf("Hugging Face API request timed out after %s", h.timeout)
		}
		return "", &InvocationError{Kind: kind, Message: msg, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &InvocationError{
			Kind:    classifyTransportError(err),
			Message: "No response received from Hugging Face API",
			Err:     err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &InvocationError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("Hugging Face API error: %d - %s", resp.StatusCode, errorDetail(resp.StatusCode, raw)),
		}
	}

	var candidates []generateCandidate
	if err := json.Unmarshal(raw, &candidates); err != nil || len(candidates) == 0 || candidates[0].GeneratedText == "" {
		return "", &InvocationError{
			Kind:    KindMalformed,
			Message: "Unexpected response format from Hugging Face API",
			Err:     err,
		}
	}

	return candidates[0].GeneratedText, nil
}

func requestError(err error) *InvocationError {
	return &InvocationError{
		Kind:    KindRequest,
		Message: fmt.Sprintf("Hugging Face API request failed: %v", err),
		Err:     err,
	}
}

// errorDetail prefers the "error" field of a JSON error body and falls back
// to the status text.
func errorDetail(status int, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return http.StatusText(status)
}
