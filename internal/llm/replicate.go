package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/fluidmcp/gateway/internal/errs"
)

// predictionEnvelope mirrors the subset of a Replicate-style async
// prediction response the manager needs to decide whether to poll.
type predictionEnvelope struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

const (
	statusStarting   = "starting"
	statusProcessing = "processing"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
)

var replicateHTTPClient = &http.Client{Timeout: 30 * time.Second}

// invokeReplicate posts to the provider's prediction endpoint and, for
// asynchronous responses, polls the status URL at a fixed interval until
// terminal or timeout, per spec.md §4.8. Retries transient errors with
// exponential backoff capped by MaxRetries, grounded in
// RevittCo-mcplexer's HTTPInstance.doRPC request/response shape.
func (m *Manager) invokeReplicate(ctx context.Context, model *Model, payload json.RawMessage) (json.RawMessage, error) {
	apiKey, err := resolveEnvRef(model.APIKeyRef)
	if err != nil {
		return nil, errs.Wrap(errs.MissingCredential, err, "resolve api_key_ref for "+model.ID)
	}

	timeout := model.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := mergeParams(model.DefaultParams, payload)

	var env predictionEnvelope
	var lastErr error
	maxRetries := model.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	for attempt := 0; attempt <= maxRetries; attempt++ {
		env, lastErr = postPrediction(callCtx, model.Endpoint, apiKey, body)
		if lastErr == nil {
			break
		}
		if attempt == maxRetries {
			return nil, errs.Wrap(errs.MCPProtocol, lastErr, "replicate prediction request failed")
		}
		select {
		case <-callCtx.Done():
			return nil, errs.New(errs.MCPTimeout, "replicate invoke deadline exceeded")
		case <-time.After(backoffDelay(attempt + 1)):
		}
	}

	if env.Status == "" || env.Status == statusSucceeded {
		return env.Output, nil
	}

	return pollPrediction(callCtx, env.URLs.Get, apiKey)
}

func mergeParams(defaults, overlay json.RawMessage) []byte {
	merged := map[string]json.RawMessage{}
	_ = json.Unmarshal(defaults, &merged)
	var over map[string]json.RawMessage
	if json.Unmarshal(overlay, &over) == nil {
		for k, v := range over {
			merged[k] = v
		}
	}
	out, _ := json.Marshal(merged)
	if len(out) == 0 {
		return overlay
	}
	return out
}

func postPrediction(ctx context.Context, endpoint, apiKey string, body []byte) (predictionEnvelope, error) {
	var env predictionEnvelope
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return env, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := replicateHTTPClient.Do(req)
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return env, fmt.Errorf("prediction request returned %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("parse prediction response: %w", err)
	}
	return env, nil
}

// pollPrediction polls statusURL at defaultPollInterval until a terminal
// status or ctx deadline, per spec.md §4.8.
func pollPrediction(ctx context.Context, statusURL, apiKey string) (json.RawMessage, error) {
	if statusURL == "" {
		return nil, errs.New(errs.MCPProtocol, "async prediction has no status URL")
	}
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.MCPTimeout, "replicate prediction poll deadline exceeded")
		case <-ticker.C:
			env, err := getPrediction(ctx, statusURL, apiKey)
			if err != nil {
				continue // transient poll error; keep polling until deadline
			}
			switch env.Status {
			case statusSucceeded:
				return env.Output, nil
			case statusFailed, statusCanceled:
				return nil, errs.New(errs.MCPProtocol, "prediction "+env.Status+": "+env.Error)
			case statusStarting, statusProcessing:
				continue
			}
		}
	}
}

func getPrediction(ctx context.Context, statusURL, apiKey string) (predictionEnvelope, error) {
	var env predictionEnvelope
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return env, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := replicateHTTPClient.Do(req)
	if err != nil {
		return env, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, err
	}
	return env, nil
}

func backoffDelay(attempt int) time.Duration {
	base := 500 * time.Millisecond
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}
