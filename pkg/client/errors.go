package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind classifies a failed RT interaction.
type Kind string

const (
	// KindAuthentication represents 401 responses.
	KindAuthentication Kind = "authentication"

	// KindAuthorization represents 403 responses.
	KindAuthorization Kind = "authorization"

	// KindNotFound represents 404 responses.
	KindNotFound Kind = "not_found"

	// KindValidation represents 400 and 422 responses and requests rejected
	// before they were sent.
	KindValidation Kind = "validation"

	// KindConflict represents 409 and 412 responses. 412 is a stale
	// concurrency token on update.
	KindConflict Kind = "conflict"

	// KindNetwork represents connection, DNS and timeout faults.
	KindNetwork Kind = "network"

	// KindRateLimited represents 429 responses.
	KindRateLimited Kind = "rate_limited"

	// KindGeneric represents everything else: 5xx, unexpected statuses and
	// malformed bodies.
	KindGeneric Kind = "generic"
)

// Kinds lists every failure kind.
var Kinds = []Kind{
	KindAuthentication, KindAuthorization, KindNotFound, KindValidation,
	KindConflict, KindNetwork, KindRateLimited, KindGeneric,
}

// ErrCancelled marks an operation abandoned because its context was
// cancelled. It is not a Failure: the outcome of the remote call is unknown.
var ErrCancelled = errors.New("operation cancelled")

// maxMessageLen bounds how much of a non-JSON body ends up in a message.
const maxMessageLen = 512

// Failure is the typed error every gateway verb returns.
type Failure struct {
	Kind       Kind
	StatusCode int
	Message    string

	// Ref names the entity involved. Always set for conflicts.
	Ref *Ref

	// RetryAfter is the server's requested wait on rate_limited failures.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString("RT ")
	b.WriteString(string(f.Kind))
	b.WriteString(" error")
	if f.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", f.StatusCode)
	}
	if f.Ref != nil {
		fmt.Fprintf(&b, " on %s", f.Ref)
	}
	if f.Message != "" {
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	if f.Err != nil {
		fmt.Fprintf(&b, ": %v", f.Err)
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// WithRef returns a copy of the failure naming ref.
func (f *Failure) WithRef(ref Ref) *Failure {
	cp := *f
	cp.Ref = &ref
	return &cp
}

// AsFailure extracts the typed failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err carries a failure of the given kind.
func IsKind(err error, kind Kind) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == kind
}

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Classify maps one raw transport outcome to nil (success), a *Failure, or
// an ErrCancelled wrap. Every input yields exactly one of those.
func Classify(resp *Response, err error) error {
	if err != nil {
		if _, ok := AsFailure(err); ok {
			return err
		}
		if IsCancelled(err) {
			if errors.Is(err, ErrCancelled) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return record(&Failure{
			Kind:    KindNetwork,
			Message: networkMessage(err),
			Err:     err,
		})
	}

	if resp == nil {
		return record(&Failure{Kind: KindGeneric, Message: "empty response"})
	}

	code := resp.StatusCode
	if (code >= 200 && code < 300) || code == http.StatusNotModified {
		return nil
	}

	f := &Failure{
		Kind:       KindForStatus(code),
		StatusCode: code,
		Message:    responseMessage(resp),
	}
	if f.Kind == KindRateLimited {
		f.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return record(f)
}

// KindForStatus is the status table for non-success responses.
func KindForStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindAuthorization
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return KindConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindGeneric
	}
}

// DecodeFailure classifies a success response whose body could not be
// decoded.
func DecodeFailure(resp *Response, err error) error {
	f := &Failure{
		Kind:    KindGeneric,
		Message: "malformed response body",
		Err:     err,
	}
	if resp != nil {
		f.StatusCode = resp.StatusCode
	}
	return record(f)
}

// validationFailure rejects a request before it is sent.
func validationFailure(ref *Ref, format string, args ...any) error {
	return record(&Failure{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
		Ref:     ref,
	})
}

func record(f *Failure) *Failure {
	failuresTotal.WithLabelValues(string(f.Kind)).Inc()
	return f
}

// responseMessage prefers RT's JSON "message" field and falls back to the
// body text, then the status text.
func responseMessage(resp *Response) string {
	body := strings.TrimSpace(string(resp.Body))
	if body != "" {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(resp.Body, &payload); err == nil && payload.Message != "" {
			return payload.Message
		}
		if !strings.HasPrefix(body, "{") && !strings.HasPrefix(body, "[") {
			if len(body) > maxMessageLen {
				cut := maxMessageLen
				for cut > 0 && !utf8.RuneStart(body[cut]) {
					cut--
				}
				body = body[:cut] + "..."
			}
			return body
		}
	}
	return http.StatusText(resp.StatusCode)
}

func networkMessage(err error) string {
	var te *TransportError
	if errors.As(err, &te) && te.Timeout {
		return "request timeout"
	}
	return "network error"
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
