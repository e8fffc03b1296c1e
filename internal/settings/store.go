package settings

import "errors"

var (
	ErrNotFound        = errors.New("settings: not found")
	ErrTypeMismatch    = errors.New("settings: type mismatch")
	ErrUnsupportedType = errors.New("settings: unsupported type")
)

// Store is the primitive key-value store settings are persisted in.
// Values passed to SetObject and returned from Object belong to the closed
// primitive set described by Kind. Implementations must be safe for
// concurrent use.
type Store interface {
	// Object returns the value stored under key. ok is false when the key is absent.
	Object(key string) (value any, ok bool, err error)
	SetObject(key string, value any) error
	// RemoveObject deletes key. Removing an absent key is not an error.
	RemoveObject(key string) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	// Keys returns all keys in ascending order.
	Keys() ([]string, error)
}
