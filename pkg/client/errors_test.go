package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestClassify_StatusTable(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthorization},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusPreconditionFailed, KindConflict},
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindGeneric},
		{http.StatusBadGateway, KindGeneric},
		{http.StatusServiceUnavailable, KindGeneric},
		{http.StatusMovedPermanently, KindGeneric},
		{http.StatusTeapot, KindGeneric},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := Classify(&Response{StatusCode: tt.status, Header: http.Header{}}, nil)

			f, ok := AsFailure(err)
			if !ok {
				t.Fatalf("Classify(%d) = %v, want *Failure", tt.status, err)
			}
			if f.Kind != tt.want {
				t.Errorf("Classify(%d).Kind = %q, want %q", tt.status, f.Kind, tt.want)
			}
			if f.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", f.StatusCode, tt.status)
			}
		})
	}
}

func TestClassify_Success(t *testing.T) {
	for _, status := range []int{200, 201, 204, 304} {
		if err := Classify(&Response{StatusCode: status}, nil); err != nil {
			t.Errorf("Classify(%d) = %v, want nil", status, err)
		}
	}
}

func TestClassify_TransportFault(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{
			name:        "connection refused",
			err:         &TransportError{Method: "GET", Path: "/ticket/1", Err: errors.New("connection refused")},
			wantMessage: "network error",
		},
		{
			name:        "timeout",
			err:         &TransportError{Method: "GET", Path: "/ticket/1", Timeout: true, Err: context.DeadlineExceeded},
			wantMessage: "request timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(nil, tt.err)
			if !IsKind(err, KindNetwork) {
				t.Fatalf("Classify() = %v, want network failure", err)
			}
			f, _ := AsFailure(err)
			if f.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", f.Message, tt.wantMessage)
			}
			var te *TransportError
			if !errors.As(err, &te) {
				t.Error("expected TransportError to remain reachable through Unwrap")
			}
		})
	}
}

func TestClassify_Cancellation(t *testing.T) {
	err := Classify(nil, context.Canceled)

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled to be preserved, got %v", err)
	}
	if _, ok := AsFailure(err); ok {
		t.Error("cancellation must not be a typed failure")
	}
	if !IsCancelled(err) {
		t.Error("IsCancelled() = false, want true")
	}
}

func TestClassify_PassesThroughFailure(t *testing.T) {
	orig := &Failure{Kind: KindValidation, Message: "bad body"}
	if got := Classify(nil, orig); got != error(orig) {
		t.Errorf("Classify() = %v, want original failure", got)
	}
}

func TestClassify_NilResponse(t *testing.T) {
	if !IsKind(Classify(nil, nil), KindGeneric) {
		t.Error("nil response without error should be generic")
	}
}

func TestClassify_Message(t *testing.T) {
	long := strings.Repeat("x", 600)
	// Two-byte runes from offset 1, so byte maxMessageLen falls mid-rune.
	accented := "x" + strings.Repeat("é", 300)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"json message", `{"message":"Ticket 7: Permission Denied"}`, "Ticket 7: Permission Denied"},
		{"plain text", "  upstream exploded \n", "upstream exploded"},
		{"json without message", `{"error":"x"}`, "Not Found"},
		{"empty body", "", "Not Found"},
		{"truncated", long, strings.Repeat("x", maxMessageLen) + "..."},
		{"truncated at rune boundary", accented, "x" + strings.Repeat("é", (maxMessageLen-1)/2) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(&Response{StatusCode: 404, Header: http.Header{}, Body: []byte(tt.body)}, nil)
			f, _ := AsFailure(err)
			if f.Message != tt.want {
				t.Errorf("Message = %q, want %q", f.Message, tt.want)
			}
			if !utf8.ValidString(f.Message) {
				t.Errorf("Message is not valid UTF-8: %q", f.Message)
			}
		})
	}
}

func TestClassify_RetryAfter(t *testing.T) {
	resp := &Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": {"7"}},
	}
	f, _ := AsFailure(Classify(resp, nil))
	if f.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", f.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "30", 30 * time.Second},
		{"negative", "-5", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.value, now); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestDecodeFailure(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := DecodeFailure(&Response{StatusCode: 200}, cause)

	if !IsKind(err, KindGeneric) {
		t.Fatalf("expected generic failure, got %v", err)
	}
	f, _ := AsFailure(err)
	if f.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", f.StatusCode)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be wrapped")
	}
}

func TestFailure_Error(t *testing.T) {
	ref := NewRef(TypeTicket, 42)

	tests := []struct {
		name    string
		failure *Failure
		want    string
	}{
		{
			name:    "status and message",
			failure: &Failure{Kind: KindNotFound, StatusCode: 404, Message: "Resource does not exist"},
			want:    "RT not_found error (status 404): Resource does not exist",
		},
		{
			name:    "with ref",
			failure: &Failure{Kind: KindConflict, StatusCode: 412, Message: "Precondition failed", Ref: &ref},
			want:    "RT conflict error (status 412) on ticket/42: Precondition failed",
		},
		{
			name:    "wrapped error",
			failure: &Failure{Kind: KindNetwork, Message: "network error", Err: errors.New("dial tcp: refused")},
			want:    "RT network error: network error: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.failure.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFailure_WithRef(t *testing.T) {
	orig := &Failure{Kind: KindConflict, StatusCode: 409}
	withRef := orig.WithRef(NewRef(TypeQueue, "General"))

	if orig.Ref != nil {
		t.Error("WithRef must not modify the receiver")
	}
	if withRef.Ref == nil || withRef.Ref.String() != "queue/General" {
		t.Errorf("Ref = %v, want queue/General", withRef.Ref)
	}
}

func TestIsKind_Wrapped(t *testing.T) {
	err := fmt.Errorf("update ticket: %w", &Failure{Kind: KindConflict})

	if !IsKind(err, KindConflict) {
		t.Error("IsKind() should see through %w wrapping")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind() matched the wrong kind")
	}
	if IsKind(errors.New("plain"), KindGeneric) {
		t.Error("plain errors carry no kind")
	}
}
