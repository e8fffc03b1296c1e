// Package settings provides typed, persistent settings on top of an untyped
// property-list-style store.
//
// # Overview
//
// A setting is declared once by a definition type and is then read and
// written through a *Setting[T]:
//
//	type launchCount struct{}
//
//	func (launchCount) Default() int { return 0 }
//
//	var LaunchCount = settings.Declare[int](launchCount{}, settings.WithStore(store))
//
//	n := LaunchCount.Value()
//	LaunchCount.SetValue(n + 1)
//
// The storage key is derived from the definition's type name ("launchCount"
// above). A definition that implements Keyer chooses its own key.
//
// # Stored values
//
// Stores hold a closed set of primitives: bool, int64, float64, string,
// []byte, time.Time, and the containers []any and map[string]any. time.Time
// and []byte settings are passed through unchanged. Every other type is
// converted with the binary property list codec, so records are stored as
// dictionaries keyed by their `plist` field tags. A stored integer that
// does not fit the setting's integer type is treated as undecodable, and
// integers read into float settings are widened.
//
// # Errors
//
// Get and Set never fail. A value that is missing or cannot be decoded reads
// as the definition's default; a value that cannot be encoded removes the
// key. Failures are logged at debug level on the setting's logger.
package settings
