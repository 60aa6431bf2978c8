package catalog

import (
	"reflect"
	"strings"
)

// OpKind is the operation tag describing what an operation does.
type OpKind string

const (
	KindRead   OpKind = "read"
	KindWrite  OpKind = "write"
	KindDelete OpKind = "delete"
	KindSearch OpKind = "search"
)

// Permission is the operation tag describing who is expected to call it.
type Permission string

const (
	PermBasic     Permission = "basic"
	PermPowerUser Permission = "power-user"
	PermAdmin     Permission = "admin"
)

// Param describes one accepted parameter.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Descriptor describes one operation. Every operation carries exactly three
// tags: its resource, its kind and its permission level.
type Descriptor struct {
	Name        string     `json:"name"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Resource    string     `json:"resource"`
	Kind        OpKind     `json:"kind"`
	Permission  Permission `json:"permission"`
	ReadOnly    bool       `json:"read_only"`
	Destructive bool       `json:"destructive"`
	Params      []Param    `json:"params"`
}

// Tags returns the resource, kind and permission tags.
func (d Descriptor) Tags() []string {
	return []string{d.Resource, string(d.Kind), string(d.Permission)}
}

// HasTags reports whether d carries every tag given.
func (d Descriptor) HasTags(tags ...string) bool {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if tag != d.Resource && tag != string(d.Kind) && tag != string(d.Permission) {
			return false
		}
	}
	return true
}

// paramsOf lists the mapstructure-tagged fields of a request struct. A
// `catalog:"required"` tag marks required parameters.
func paramsOf(t reflect.Type) []Param {
	if t.Kind() != reflect.Struct {
		return nil
	}
	params := make([]Param, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		params = append(params, Param{
			Name:     name,
			Type:     typeName(f.Type),
			Required: f.Tag.Get("catalog") == "required",
		})
	}
	return params
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "integer"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice:
		return "array"
	case reflect.Map:
		return "object"
	default:
		return t.Kind().String()
	}
}
