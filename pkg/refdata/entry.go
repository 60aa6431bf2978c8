package refdata

import (
	"time"
)

// Entry is one cached reference-data document.
type Entry struct {
	// Data is the JSON document served to callers.
	Data []byte `json:"data"`

	// ETag revalidates the entry with If-None-Match. Lists have none.
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry stops being fresh.
	Expires time.Time `json:"expires"`

	// FetchedAt is when RT last produced or confirmed the data.
	FetchedAt time.Time `json:"fetched_at"`
}

// NewEntry builds an entry fetched at now and fresh for ttl.
func NewEntry(data []byte, etag string, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		Data:      data,
		ETag:      etag,
		Expires:   now.Add(ttl),
		FetchedAt: now,
	}
}

// IsFresh reports whether the entry can be served without asking RT.
func (e *Entry) IsFresh(now time.Time) bool {
	return now.Before(e.Expires)
}

// TTL returns the remaining freshness at now, or 0 once stale.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the data was fetched or confirmed.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Revalidatable reports whether a stale entry can be confirmed cheaply.
func (e *Entry) Revalidatable() bool {
	return e.ETag != ""
}
