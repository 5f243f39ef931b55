package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reactionmap/progress/internal/api"
)

const (
	defaultTimeout = 8 * time.Second
	defaultRetries = 2
	defaultBackoff = 300 * time.Millisecond
)

// APIError is a non-2xx answer from the progress server.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Request failed (%d).", e.Status)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	retries int
	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

func WithRetries(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.backoff = backoff
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: defaultTimeout,
		retries: defaultRetries,
		backoff: defaultBackoff,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Join(ctx context.Context, req api.JoinRequest) (api.JoinResponse, error) {
	var out api.JoinResponse
	err := c.do(ctx, http.MethodPost, "/join", nil, req, &out)
	return out, err
}

func (c *Client) Load(ctx context.Context, token string, since *time.Time) (api.LoadResponse, error) {
	path := "/load"
	if since != nil {
		path += "?" + url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}
	var out api.LoadResponse
	err := c.do(ctx, http.MethodGet, path, bearer(token), nil, &out)
	return out, err
}

func (c *Client) Save(ctx context.Context, token string, updates []api.ProgressUpdate) (api.SaveResponse, error) {
	var out api.SaveResponse
	err := c.do(ctx, http.MethodPost, "/save", bearer(token), api.SaveRequest{Updates: updates}, &out)
	return out, err
}

func (c *Client) TeacherLogin(ctx context.Context, req api.TeacherLoginRequest) (api.TeacherLoginResponse, error) {
	var out api.TeacherLoginResponse
	err := c.do(ctx, http.MethodPost, "/teacher/login", nil, req, &out)
	return out, err
}

// TeacherAuth is either an access token from TeacherLogin or a raw teacher code.
type TeacherAuth struct {
	ClassCode   string
	AccessToken string
	TeacherCode string
}

func (a TeacherAuth) query(extra url.Values) (string, http.Header) {
	values := url.Values{"class_code": {a.ClassCode}}
	for k, v := range extra {
		values[k] = v
	}
	if a.AccessToken != "" {
		return values.Encode(), bearer(a.AccessToken)
	}
	values.Set("teacher_code", a.TeacherCode)
	return values.Encode(), nil
}

func (c *Client) Report(ctx context.Context, auth TeacherAuth) (api.Report, error) {
	query, header := auth.query(nil)
	var out api.Report
	err := c.do(ctx, http.MethodGet, "/teacher/report?"+query, header, nil, &out)
	return out, err
}

func (c *Client) ReportCSV(ctx context.Context, auth TeacherAuth, kind string) ([]byte, error) {
	query, header := auth.query(url.Values{"kind": {kind}})
	var out bytes.Buffer
	err := c.do(ctx, http.MethodGet, "/teacher/report.csv?"+query, header, nil, &out)
	return out.Bytes(), err
}

// Health makes a single short request; it backs the CLI connectivity probe.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out interface{}) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
		retry, err := c.attempt(ctx, method, path, header, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

// attempt performs one request and reports whether a failure is worth retrying.
func (c *Client) attempt(ctx context.Context, method, path string, header http.Header, payload []byte, out interface{}) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp)
		return resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout, apiErr
	}
	if buf, ok := out.(*bytes.Buffer); ok {
		_, err := io.Copy(buf, resp.Body)
		return false, err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return true, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var envelope api.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

func bearer(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": {"Bearer " + token}}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
