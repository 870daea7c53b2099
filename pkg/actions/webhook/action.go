// Package webhook provides the action that posts execution data to an
// external HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
	"github.com/sony/gobreaker"
)

const (
	DefaultTimeout = 10 * time.Second
	MaxTimeout     = 30 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	ErrInvalidURL     = errors.New("invalid webhook url")
	ErrInvalidMethod  = errors.New("invalid webhook method")
	ErrInvalidTimeout = errors.New("invalid webhook timeout")
	ErrUnexpectedCode = errors.New("webhook returned a non-2xx status")
)

// Action sends one HTTP request without retries. Calls to the same host share
// a circuit breaker.
type Action struct {
	URL     *url.URL
	Method  string
	Headers map[string]string
	Body    any
	Timeout time.Duration

	client   *http.Client
	breakers *Breakers
}

func newAction(config map[string]any, client *http.Client, breakers *Breakers) (*Action, error) {
	rawURL, _ := config["url"].(string)

	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	method = strings.ToUpper(method)
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	headers := make(map[string]string)

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for key, value := range headersConfig {
			headers[key] = fmt.Sprintf("%v", value)
		}
	}

	timeout := DefaultTimeout

	if raw, ok := config["timeout"]; ok {
		timeout, err = models.ParseDuration(raw)
		if err != nil || timeout < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTimeout, raw)
		}

		if timeout == 0 {
			timeout = DefaultTimeout
		}

		timeout = min(timeout, MaxTimeout)
	}

	return &Action{
		URL:      target,
		Method:   method,
		Headers:  headers,
		Body:     config["body"],
		Timeout:  timeout,
		client:   client,
		breakers: breakers,
	}, nil
}

type response struct {
	statusCode int
	body       any
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (protocol.ActionResult, error) {
	logger = logger.With("module", "webhook_action", "host", a.URL.Host)

	payload, err := a.payload(actionCtx)
	if err != nil {
		return protocol.ActionResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	outcome, err := a.breakers.get(a.URL.Host).Execute(func() (interface{}, error) {
		return a.send(ctx, payload)
	})

	resp, _ := outcome.(*response)

	var output map[string]any
	if resp != nil {
		output = map[string]any{
			"status_code": resp.statusCode,
			"body":        resp.body,
		}
	}

	if err != nil {
		result := protocol.ActionResult{Success: false, Output: output, Error: err.Error()}

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			logger.WarnContext(ctx, "Webhook skipped by open circuit breaker")
		case isTimeout(err):
			result.TimedOut = true

			logger.WarnContext(ctx, "Webhook timed out", "timeout", a.Timeout)
		default:
			logger.WarnContext(ctx, "Webhook failed", "error", err)
		}

		return result, nil
	}

	logger.InfoContext(ctx, "Webhook delivered", "status_code", resp.statusCode)

	return protocol.Succeeded(output), nil
}

func (a *Action) payload(actionCtx protocol.ActionContext) ([]byte, error) {
	body := a.Body
	if body == nil {
		body = map[string]any{
			"workflow_id":     actionCtx.WorkflowID,
			"execution_id":    actionCtx.ExecutionID,
			"conversation_id": actionCtx.ConversationID,
			"node_id":         actionCtx.NodeID,
		}
	}

	if raw, ok := body.(string); ok {
		return []byte(raw), nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	return payload, nil
}

func (a *Action) send(ctx context.Context, payload []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(raw, &body)
	if err != nil {
		body = string(raw)
	}

	result := &response{statusCode: resp.StatusCode, body: body}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("%w: %d", ErrUnexpectedCode, resp.StatusCode)
	}

	return result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
