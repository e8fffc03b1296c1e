package storage

import "time"

// Entry describes a stored setting without decoding its value.
type Entry struct {
	Domain    string
	Key       string
	Kind      string
	UpdatedAt time.Time
}
