package settings

import (
	"reflect"
	"strings"
)

// Keyer is implemented by definitions that choose their own storage key
// instead of the one derived from their type name.
type Keyer interface {
	Key() string
}

// DeriveKey turns a type identity into a storage key: everything before the
// first space, or the identity itself when it has none.
func DeriveKey(identity string) string {
	if i := strings.IndexByte(identity, ' '); i >= 0 {
		return identity[:i]
	}
	return identity
}

// KeyOf returns the storage key for a setting definition.
func KeyOf(def any) string {
	if k, ok := def.(Keyer); ok {
		return k.Key()
	}
	return DeriveKey(identity(reflect.TypeOf(def)))
}

// identity is the descriptive name of t: its declared name when it has one,
// otherwise its type string. Pointer definitions are named after their
// element type.
func identity(t reflect.Type) string {
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
