package refdata

import (
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix starts every reference-data key.
const KeyPrefix = "rt:ref"

// Key identifies one reference-data document.
type Key struct {
	// Name is the document, e.g. "queues" or "user:current".
	Name string

	// Params distinguishes variants of the same document.
	Params url.Values
}

// String renders a deterministic key: rt:ref:<name>:k=v[:k=v...] with
// parameters sorted by name. Only the first value of each parameter counts.
//
// Example:
//
//	rt:ref:queues:per_page=100
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if name := strings.Trim(k.Name, ":"); name != "" {
		parts = append(parts, name)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			parts = append(parts, name+"="+k.Params.Get(name))
		}
	}

	return strings.Join(parts, ":")
}
