package endpoint

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"context"

	"github.com/mohammad-safakhou/netriage/config"
)

// Result is the structured outcome of a remote call. Any HTTP status is a
// Result: non-2xx codes are soft failures, returned as data rather than raised.
type Result struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the call landed in the 2xx bucket.
func (r Result) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// TransportError is the only call outcome that propagates as a raised fault:
// connection refused, timeout, DNS failure. HTTP-level failures never take
// this shape.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure calling %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Runner executes validated read-only calls against one remote device,
// acquiring and caching an auth token for the life of the runner. Runners are
// created per run: tokens never leak across incidents.
type Runner struct {
	device config.Device
	client *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewRunner builds a runner for one device's connection config.
func NewRunner(device config.Device) *Runner {
	timeout := device.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	if device.TLSInsecure {
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &Runner{device: device, client: client}
}

// Call performs one read-only request against the device. Path must already be
// fully substituted. The outcome is classified into exactly one of: success or
// soft failure (both Result, nil error) and transport failure (TransportError).
func (r *Runner) Call(ctx context.Context, method, path string, headers map[string]string) (Result, error) {
	res, status, err := r.doAuthed(ctx, method, path, headers)
	if err != nil {
		return Result{}, err
	}
	// One re-acquisition on 401, never more, to avoid auth loops.
	if status == http.StatusUnauthorized && r.device.AuthType == "token" {
		r.invalidateToken()
		res, _, err = r.doAuthed(ctx, method, path, headers)
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (r *Runner) doAuthed(ctx context.Context, method, path string, headers map[string]string) (Result, int, error) {
	url := strings.TrimRight(r.device.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Result{}, 0, &TransportError{URL: url, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	switch r.device.AuthType {
	case "basic":
		user, pass := r.device.Credentials()
		req.SetBasicAuth(user, pass)
	case "token":
		token, err := r.ensureToken(ctx)
		if err != nil {
			return Result{}, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, 0, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, 0, &TransportError{URL: url, Err: err}
	}
	return Result{StatusCode: resp.StatusCode, Body: body}, resp.StatusCode, nil
}

// ensureToken returns the cached token, acquiring a fresh one when missing or
// expired. Tokens are owned by this runner only.
func (r *Runner) ensureToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token != "" && time.Now().Before(r.tokenExp) {
		return r.token, nil
	}

	user, pass := r.device.Credentials()
	payload, _ := json.Marshal(map[string]string{"username": user, "password": pass})
	url := strings.TrimRight(r.device.BaseURL, "/") + r.device.TokenPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &TransportError{URL: url, Err: fmt.Errorf("token acquisition returned %s: %s", resp.Status, string(b))}
	}
	var out struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &TransportError{URL: url, Err: fmt.Errorf("decoding token response: %w", err)}
	}
	if out.Token == "" {
		return "", &TransportError{URL: url, Err: fmt.Errorf("token response missing token field")}
	}
	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	r.token = out.Token
	r.tokenExp = time.Now().Add(ttl - 30*time.Second)
	return r.token, nil
}

func (r *Runner) invalidateToken() {
	r.mu.Lock()
	r.token = ""
	r.tokenExp = time.Time{}
	r.mu.Unlock()
}
