package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrBadStatusCode = fmt.Errorf("bad status code")

// DefaultTimeout is applied to every request unless overridden with WithTimeout.
const DefaultTimeout = 60 * time.Second

// StatusError is returned when the server answers with a non-2xx status code.
// It wraps ErrBadStatusCode.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s %s: %s: %d %s", e.Method, e.Path, ErrBadStatusCode, e.StatusCode, body)
}

func (e *StatusError) Unwrap() error {
	return ErrBadStatusCode
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Response is the result of a request. Body holds the raw response payload.
type Response struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Err returns a *StatusError when the response is not OK, nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{Method: r.Method, Path: r.Path, StatusCode: r.StatusCode, Body: r.Text()}
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// TokenSource returns a bearer token for each request.
type TokenSource func(ctx context.Context) (string, error)

type Client struct {
	BaseURL string

	Token string

	BasicAuthUser     string
	BasicAuthPassword string

	tokenSource TokenSource
	timeout     time.Duration
	httpClient  *http.Client
}

type ClientOption func(*Client)

// WithAuthentication returns a ClientOption that sets the token to be used for
// authentication.
// The token can be an API key, or it can be in the form of "username:password"
// for basic authentication.
func WithAuthentication(token string) ClientOption {
	return func(cl *Client) {
		auth := strings.SplitN(token, ":", 2)
		if len(auth) == 2 {
			cl.BasicAuthUser = auth[0]
			cl.BasicAuthPassword = auth[1]
			return
		}
		cl.Token = token
	}
}

// WithTokenSource returns a ClientOption that fetches a bearer token for every
// request. It takes precedence over static credentials.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(cl *Client) {
		cl.tokenSource = ts
	}
}

// WithHTTPClient returns a ClientOption that sets the HTTP client to be used.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = httpClient
	}
}

// WithTimeout returns a ClientOption that bounds every request to d.
// A zero duration disables the timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.timeout = d
	}
}

// NewClient returns a new Client with the given baseURL and options.
func NewClient(baseURL string, opts ...ClientOption) Client {
	client := Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&client)
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	hc := *client.httpClient
	hc.Timeout = client.timeout
	client.httpClient = &hc
	return client
}

func (cl Client) urlFor(s string) string {
	return cl.BaseURL + "/" + strings.TrimPrefix(s, "/")
}

func (cl Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, cl.urlFor(url), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Token source first (Azure AD), then the service account token, then basic auth.
	switch {
	case cl.tokenSource != nil:
		token, err := cl.tokenSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("get token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case cl.Token != "":
		req.Header.Set("Authorization", "Bearer "+cl.Token)
	case cl.BasicAuthUser != "" && cl.BasicAuthPassword != "":
		req.SetBasicAuth(cl.BasicAuthUser, cl.BasicAuthPassword)
	}
	return req, nil
}

// Do sends a request with an optional JSON body and returns the response
// regardless of its status code. The error is only set for transport failures.
func (cl Client) Do(ctx context.Context, method, url string, in interface{}) (*Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := cl.newRequest(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := cl.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		Method:     req.Method,
		Path:       url,
		StatusCode: resp.StatusCode,
		Body:       b,
	}, nil
}

// Request sends a request and decodes the JSON response into out.
// Non-2xx responses are returned as *StatusError.
func (cl Client) Request(ctx context.Context, method, url string, in, out interface{}) error {
	resp, err := cl.Do(ctx, method, url, in)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out != nil {
		return resp.Decode(out)
	}
	return nil
}
