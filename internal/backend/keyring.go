package backend

import (
	"encoding/base64"
	"errors"
	"fmt"

	zkr "github.com/zalando/go-keyring"
)

// Keyring stores settings in the OS keychain, one item per key, with the
// domain as the service name. Values are kept as base64 binary property
// lists so that every primitive survives the string-only keychain API.
//
// The keychain cannot enumerate items, so Keyring does not implement
// settings.Lister.
type Keyring struct {
	service string
}

func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

func (k *Keyring) Object(key string) (any, bool, error) {
	s, err := zkr.Get(k.service, key)
	if errors.Is(err, zkr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("keychain get: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, false, fmt.Errorf("keychain item %s/%s: %w", k.service, key, err)
	}
	v, err := decodeValue(data)
	if err != nil {
		return nil, false, fmt.Errorf("keychain item %s/%s: %w", k.service, key, err)
	}
	return v, true, nil
}

func (k *Keyring) SetObject(key string, value any) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return zkr.Set(k.service, key, base64.StdEncoding.EncodeToString(data))
}

func (k *Keyring) RemoveObject(key string) error {
	err := zkr.Delete(k.service, key)
	if err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}
