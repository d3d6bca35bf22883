package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/railzwaylabs/storepay/internal/observability"
	"github.com/railzwaylabs/storepay/internal/payment/domain"
)

const maxResponseBody = 1 << 20

// Transport is the outbound HTTP client shared by an adapter factory. Calls
// are never retried; failures surface as *domain.ProviderError.
type Transport struct {
	client  *http.Client
	metrics *observability.Metrics
}

func NewTransport(timeout time.Duration, metrics *observability.Metrics) *Transport {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Transport{
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// Do executes req and returns the response body of a 2xx response.
func (t *Transport) Do(ctx context.Context, provider, operation string, req *http.Request) (body []byte, err error) {
	started := time.Now()
	defer func() { t.metrics.ObserveProvider(provider, operation, started, err) }()

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &domain.ProviderError{Provider: provider, Operation: operation, Err: err}
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &domain.ProviderError{Provider: provider, Operation: operation, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.ProviderError{
			Provider:   provider,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	return body, nil
}

// errorMessage pulls a human readable message out of common provider error
// envelopes.
func errorMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		switch e := env.Error.(type) {
		case string:
			return e
		case map[string]any:
			if msg, ok := e["message"].(string); ok {
				return msg
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// IsProviderError reports whether err came from the provider call itself.
func IsProviderError(err error) bool {
	var pe *domain.ProviderError
	return errors.As(err, &pe)
}

// ReadString returns a trimmed string credential.
func ReadString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	if !ok {
		return "", false
	}
	cast = strings.TrimSpace(cast)
	return cast, cast != ""
}

func BaseURL(config map[string]any, fallback string) string {
	if v, ok := ReadString(config, "base_url"); ok {
		return strings.TrimRight(v, "/")
	}
	return fallback
}
