// Package callback delivers session outcome notifications to the compliance
// hub. Every request is signed with the connector's private key; delivery is
// retried with exponential backoff and exhaustion is logged, never surfaced
// to the authorization flow that triggered it.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-psd2-connector/core"
)

const (
	sessionsPathPrefix      = "/api/connectors/v2/sessions/"
	defaultRequestTimeout   = 30 * time.Second
	maxResponseBodyBytes    = 1 << 20
	defaultCallbackAttempts = 5
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionFailPayload is the wire shape of a fail callback.
type SessionFailPayload struct {
	ErrorClass   string `json:"error_class"`
	ErrorMessage string `json:"error_message"`
}

type DispatcherConfig struct {
	BaseURL        string
	AppID          string
	AppSecret      string
	MaxAttempts    int
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
	Backoff        BackoffScheduler
	Signer         core.SignatureService
	Logger         core.Logger
	// Sleep is injectable for tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration)
}

// SessionDispatcher implements core.CallbackDispatcher against the hub's
// session endpoints: PATCH .../sessions/{secret}/{update|success|fail}.
type SessionDispatcher struct {
	config     DispatcherConfig
	httpClient HTTPDoer
	backoff    BackoffScheduler
	logger     core.Logger
	sleep      func(ctx context.Context, d time.Duration)
}

func NewSessionDispatcher(cfg DispatcherConfig) (*SessionDispatcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("callback: hub base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("callback: invalid hub base url: %w", err)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultCallbackAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = ExponentialBackoffScheduler{}
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = waitWithContext
	}
	return &SessionDispatcher{
		config:     cfg,
		httpClient: httpClient,
		backoff:    backoff,
		logger:     glog.Ensure(cfg.Logger),
		sleep:      sleep,
	}, nil
}

func (d *SessionDispatcher) SendUpdateCallback(ctx context.Context, sessionSecret string, payload core.SessionUpdatePayload) {
	d.deliver(ctx, sessionSecret, "update", payload)
}

func (d *SessionDispatcher) SendSuccessCallback(ctx context.Context, sessionSecret string, payload core.SessionSuccessPayload) {
	d.deliver(ctx, sessionSecret, "success", payload)
}

func (d *SessionDispatcher) SendFailCallback(ctx context.Context, sessionSecret string, cause error) {
	d.deliver(ctx, sessionSecret, "fail", SessionFailPayload{
		ErrorClass:   core.ErrorClass(cause),
		ErrorMessage: core.ErrorMessage(cause),
	})
}

func (d *SessionDispatcher) deliver(ctx context.Context, sessionSecret, action string, payload any) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sessionSecret = strings.TrimSpace(sessionSecret)
	if sessionSecret == "" {
		d.logger.Error("callback dropped: session secret is empty", "action", action)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("callback dropped: encode payload", "action", action, "error", err)
		return
	}
	path := sessionsPathPrefix + url.PathEscape(sessionSecret) + "/" + action

	var lastErr error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			d.sleep(ctx, d.backoff.NextDelay(attempt-1))
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}
		lastErr = d.send(ctx, path, body)
		if lastErr == nil {
			d.logger.Debug("callback delivered",
				"action", action,
				"attempt", attempt,
			)
			return
		}
	}

	failure := core.NewCallbackDeliveryFailedError(lastErr, d.config.MaxAttempts)
	d.logger.Error("callback delivery exhausted",
		"action", action,
		"attempts", d.config.MaxAttempts,
		"error", failure.Error(),
	)
}

func (d *SessionDispatcher) send(ctx context.Context, path string, body []byte) error {
	endpoint := strings.TrimRight(d.config.BaseURL, "/") + path

	requestCtx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callback: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if appID := strings.TrimSpace(d.config.AppID); appID != "" {
		req.Header.Set("App-Id", appID)
	}
	if appSecret := strings.TrimSpace(d.config.AppSecret); appSecret != "" {
		req.Header.Set("App-Secret", appSecret)
	}
	if d.config.Signer != nil {
		signature, signErr := d.config.Signer.Sign(http.MethodPatch, path, body)
		if signErr != nil {
			return fmt.Errorf("callback: sign request: %w", signErr)
		}
		req.Header.Set("Signature", signature)
	}

	response, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback: request failed: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBodyBytes))

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("callback: hub responded %d", response.StatusCode)
	}
	return nil
}

func waitWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

var _ core.CallbackDispatcher = (*SessionDispatcher)(nil)
