package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// EntityType names an RT object class. The value is the singular path
// segment used by REST2 (/ticket/1); the collection is the plural (/tickets).
type EntityType string

const (
	TypeTicket      EntityType = "ticket"
	TypeQueue       EntityType = "queue"
	TypeUser        EntityType = "user"
	TypeGroup       EntityType = "group"
	TypeAsset       EntityType = "asset"
	TypeCatalog     EntityType = "catalog"
	TypeCustomField EntityType = "customfield"
	TypeCustomRole  EntityType = "customrole"
	TypeTransaction EntityType = "transaction"
	TypeAttachment  EntityType = "attachment"
)

// EntityTypes lists every supported type.
var EntityTypes = []EntityType{
	TypeTicket, TypeQueue, TypeUser, TypeGroup, TypeAsset, TypeCatalog,
	TypeCustomField, TypeCustomRole, TypeTransaction, TypeAttachment,
}

// ParseEntityType accepts the REST2 segment as well as the hyphenated tag
// spelling used by the catalog ("custom-field").
func ParseEntityType(s string) (EntityType, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	norm = strings.ReplaceAll(norm, "_", "")
	for _, t := range EntityTypes {
		if string(t) == norm || string(t)+"s" == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Collection returns the collection path, e.g. "/tickets".
func (t EntityType) Collection() string {
	return "/" + string(t) + "s"
}

// Deletable reports whether RT accepts DELETE for the type.
func (t EntityType) Deletable() bool {
	return t != TypeTransaction && t != TypeAttachment
}

// SoftDeletes reports whether DELETE disables rather than removes. RT never
// hard-deletes through REST2: tickets move to status "deleted", everything
// else gets Disabled=1, so the reference stays valid afterwards.
func (t EntityType) SoftDeletes() bool {
	return t.Deletable()
}

// Ref identifies one remote object.
type Ref struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// NewRef builds a Ref from any printable identifier.
func NewRef(t EntityType, id any) Ref {
	return Ref{Type: t, ID: fmt.Sprint(id)}
}

// Path returns the item path, e.g. "/ticket/42".
func (r Ref) Path() string {
	return "/" + string(r.Type) + "/" + url.PathEscape(r.ID)
}

// String renders "type/id" for logs and messages.
func (r Ref) String() string {
	return string(r.Type) + "/" + r.ID
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Token is the opaque optimistic-concurrency marker RT returns as ETag. It
// is only ever compared for equality; the remote service decides validity.
type Token string

// Equal reports whether two tokens are identical.
func (t Token) Equal(other Token) bool {
	return t == other
}

// IsZero reports whether no token was issued.
func (t Token) IsZero() bool {
	return t == ""
}

// Snapshot is the state of one entity as read from RT.
type Snapshot struct {
	Ref    Ref            `json:"ref"`
	Fields map[string]any `json:"fields"`
	Token  Token          `json:"token,omitempty"`
}

// Field returns a field value and whether it was present.
func (s Snapshot) Field(name string) (any, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// Text returns a field rendered as text, or "" when absent.
func (s Snapshot) Text(name string) string {
	v, ok := s.Fields[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// UpdateToken returns the token to update s with. RT omits the ETag for
// some types and configurations; such an entity cannot be updated safely,
// so a missing token is a validation failure naming the ref.
func (s Snapshot) UpdateToken() (Token, error) {
	if s.Token.IsZero() {
		ref := s.Ref
		return "", validationFailure(&ref, "RT returned no ETag for %s; cannot update without a concurrency token", ref)
	}
	return s.Token, nil
}

// snapshotFromObject builds a snapshot from a decoded RT object. The ID
// comes from the object when present, otherwise from fallback.
func snapshotFromObject(t EntityType, obj map[string]any, fallback string, token Token) Snapshot {
	id := fallback
	if v, ok := obj["id"]; ok && v != nil {
		id = fmt.Sprint(v)
	}
	if typ, ok := obj["type"].(string); ok && t == "" {
		if parsed, err := ParseEntityType(typ); err == nil {
			t = parsed
		}
	}
	return Snapshot{Ref: Ref{Type: t, ID: id}, Fields: obj, Token: token}
}

// Filter describes one search. It holds no paging state and can be reused
// for every page.
type Filter struct {
	// Type is the entity type searched.
	Type EntityType `json:"type"`

	// Query is an RT query expression (TicketSQL for tickets). Empty lists
	// the whole collection.
	Query string `json:"query,omitempty"`

	// OrderBy and Order ("ASC"/"DESC") control sorting.
	OrderBy string `json:"orderby,omitempty"`
	Order   string `json:"order,omitempty"`

	// PageSize is a hint; the gateway clamps it to RT's limits.
	PageSize int `json:"per_page,omitempty"`

	// Collection overrides the collection path, for sub-collections such as
	// "/ticket/7/history".
	Collection string `json:"collection,omitempty"`

	// Params carries extra query parameters.
	Params url.Values `json:"params,omitempty"`
}

// path returns the collection path searched.
func (f Filter) path() string {
	if f.Collection != "" {
		return f.Collection
	}
	return f.Type.Collection()
}

// Page is one page of search results.
type Page struct {
	Items      []Snapshot `json:"items"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	Pages      int        `json:"pages"`
	Total      int        `json:"total"`
	TotalKnown bool       `json:"total_known"`
	HasMore    bool       `json:"has_more"`
}

// pageBody is the REST2 paginated envelope.
type pageBody struct {
	Count    *int             `json:"count"`
	Page     int              `json:"page"`
	Pages    *int             `json:"pages"`
	PerPage  int              `json:"per_page"`
	Total    *int             `json:"total"`
	NextPage string           `json:"next_page"`
	Items    []map[string]any `json:"items"`
}

// DeleteResult reports the outcome of a delete.
type DeleteResult struct {
	Ref      Ref    `json:"ref"`
	Disabled bool   `json:"disabled"`
	Message  string `json:"message,omitempty"`
}

// Content is a raw downloaded body.
type Content struct {
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
}

// decodeObject decodes a JSON object keeping numbers as json.Number.
func decodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
