// Package client is the RT REST2 gateway: a pooled transport session, the
// failure classifier, and the generic resource verbs built on them.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionConfig holds what the transport needs to reach RT.
type SessionConfig struct {
	// BaseURL is the REST2 root, e.g. "https://rt.example.com/REST/2.0".
	BaseURL string

	// Token selects "Authorization: token <Token>". When empty, User and
	// Password are sent as HTTP basic auth.
	Token    string
	User     string
	Password string

	// VerifyTLS disables certificate checks when false.
	VerifyTLS bool

	// Timeout bounds every call, including reading the body.
	Timeout time.Duration

	UserAgent string

	// MaxConnsPerHost sizes the idle pool. Set it to at least the bulk
	// concurrency so fan-out does not churn connections.
	MaxConnsPerHost int
}

// Validate checks the settings Open relies on.
func (c SessionConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must use http or https scheme, got: %q", u.Scheme)
	}
	if c.Token == "" && (c.User == "" || c.Password == "") {
		return fmt.Errorf("token or user and password are required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %v", c.Timeout)
	}
	return nil
}

// Request is one outbound call. Path is relative to the REST2 root.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	// Body is JSON-encoded when non-nil.
	Body any

	Header http.Header
}

// Response is a fully read HTTP response. Any status counts; classification
// is the caller's job.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ETag returns the response's concurrency token.
func (r *Response) ETag() Token {
	return Token(r.Header.Get("ETag"))
}

// TransportError is a call that produced no HTTP response.
type TransportError struct {
	Method  string
	Path    string
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timeout: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithHTTPClient replaces the pooled client (tests).
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) {
		s.httpClient = c
	}
}

// WithSessionLogger sets the logger.
func WithSessionLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// Session is the single authenticated connection pool to RT. It is safe for
// concurrent use.
type Session struct {
	cfg        SessionConfig
	base       *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
	closeOnce  sync.Once
}

// Open validates cfg and builds the pooled client. It does not contact RT;
// call Probe for that.
func Open(cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	perHost := cfg.MaxConnsPerHost
	if perHost < 2 {
		perHost = 2
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: perHost,
		IdleConnTimeout:     90 * time.Second,
	}
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}

	s := &Session{
		cfg:  cfg,
		base: base,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: log.With().Str("component", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BaseURL returns the REST2 root the session talks to.
func (s *Session) BaseURL() string {
	return s.base.String()
}

// Send performs one request. It returns a *Response for any HTTP status, a
// *TransportError when no response arrived, or an ErrCancelled wrap when ctx
// was cancelled. It never retries.
func (s *Session) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	target := s.resolve(req.Path, req.Query)

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, validationFailure(nil, "encode request body: %v", err)
		}
		body = bytes.NewReader(data)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	httpReq.Header.Set("X-Request-ID", requestID)
	if s.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "token "+s.cfg.Token)
	} else {
		httpReq.SetBasicAuth(s.cfg.User, s.cfg.Password)
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, s.transportFault(ctx, req, requestID, start, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.transportFault(ctx, req, requestID, start, err)
	}

	elapsed := time.Since(start)
	requestDuration.WithLabelValues(req.Method).Observe(elapsed.Seconds())
	requestsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	s.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Dur("duration", elapsed).
		Msg("RT request")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Probe checks reachability and credentials with one cheap read. A failure
// is returned classified; callers decide whether it is fatal.
func (s *Session) Probe(ctx context.Context) error {
	resp, err := s.Send(ctx, &Request{
		Method: http.MethodGet,
		Path:   "/queues",
		Query:  url.Values{"per_page": {"1"}},
	})
	return Classify(resp, err)
}

// Close releases idle pooled connections. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.httpClient.CloseIdleConnections()
	})
	return nil
}

func (s *Session) resolve(path string, query url.Values) string {
	u := *s.base
	if path != "" && path != "/" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		// Keep escaped ids intact.
		u.RawPath = s.base.EscapedPath() + path
		if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
			u.Path = unescaped
		} else {
			u.Path = s.base.Path + path
		}
	} else {
		u.Path = s.base.Path + "/"
		u.RawPath = ""
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (s *Session) transportFault(ctx context.Context, req *Request, requestID string, start time.Time, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return cancelled(ctx.Err())
	}

	transportFaultsTotal.Inc()
	requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	te := &TransportError{Method: req.Method, Path: req.Path, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		te.Timeout = true
	}

	s.logger.Debug().
		Err(err).
		Str("method", req.Method).
		Str("path", req.Path).
		Str("request_id", requestID).
		Bool("timeout", te.Timeout).
		Msg("RT transport fault")
	return te
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
