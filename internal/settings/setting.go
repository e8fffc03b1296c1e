package settings

import (
	"errors"
	"log/slog"
)

// Definition declares a typed setting. The implementing type's name is the
// setting's storage key unless it also implements Keyer.
type Definition[T any] interface {
	Default() T
}

// Option customizes a Setting.
type Option func(*options)

type options struct {
	store  Store
	logger *slog.Logger
}

// WithStore sets the store used when Get or Set are given a nil store, and by
// Value and SetValue. If not provided, each setting gets its own Memory store.
func WithStore(st Store) Option {
	return func(o *options) {
		if st != nil {
			o.store = st
		}
	}
}

// WithLogger sets the logger that records swallowed codec and store failures.
// If not provided, slog.Default() is looked up on every call, so settings
// declared at package level follow a later slog.SetDefault.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Setting is a typed accessor for one key of a Store.
type Setting[T any] struct {
	key    string
	def    Definition[T]
	codec  codec[T]
	store  Store
	logger *slog.Logger
}

// Declare creates the accessor for def. The codec is chosen here, once, from T.
func Declare[T any](def Definition[T], opts ...Option) *Setting[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewMemory()
	}
	key := KeyOf(def)
	s := &Setting[T]{
		key:   key,
		def:   def,
		codec: codecFor[T](),
		store: o.store,
	}
	if o.logger != nil {
		s.logger = o.logger.With("setting", key)
	}
	return s
}

func (s *Setting[T]) Key() string { return s.key }

func (s *Setting[T]) Default() T { return s.def.Default() }

// Store returns the setting's default store.
func (s *Setting[T]) Store() Store { return s.store }

// Get reads the setting from st, or from the default store when st is nil.
// Missing and undecodable values read as Default().
func (s *Setting[T]) Get(st Store) T {
	v, err := s.load(s.storeOr(st))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log().Debug("stored value unreadable, using default", "error", err)
		}
		return s.Default()
	}
	return v
}

func (s *Setting[T]) load(st Store) (T, error) {
	var zero T
	raw, ok, err := st.Object(s.key)
	if err != nil {
		return zero, err
	}
	if !ok || raw == nil {
		return zero, ErrNotFound
	}
	return s.codec.decode(raw)
}

// Set writes v to st, or to the default store when st is nil. A nil pointer or
// interface removes the key, and so does a value the codec cannot encode.
// Store errors are logged, not returned.
func (s *Setting[T]) Set(st Store, v T) {
	st = s.storeOr(st)
	raw, err := s.codec.encode(v)
	if err != nil {
		s.log().Debug("value not encodable, removing key", "error", err)
	}
	if raw == nil {
		if err := st.RemoveObject(s.key); err != nil {
			s.log().Warn("removing setting failed", "error", err)
		}
		return
	}
	if err := st.SetObject(s.key, raw); err != nil {
		s.log().Warn("writing setting failed", "error", err)
	}
}

// Reset removes the setting from st so that it reads as Default() again.
func (s *Setting[T]) Reset(st Store) {
	if err := s.storeOr(st).RemoveObject(s.key); err != nil {
		s.log().Warn("removing setting failed", "error", err)
	}
}

// Value reads the setting from its default store.
func (s *Setting[T]) Value() T { return s.Get(nil) }

// SetValue writes the setting to its default store.
func (s *Setting[T]) SetValue(v T) { s.Set(nil, v) }

func (s *Setting[T]) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default().With("setting", s.key)
}

func (s *Setting[T]) storeOr(st Store) Store {
	if st == nil {
		return s.store
	}
	return st
}
