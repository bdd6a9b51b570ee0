// Package dedupe suppresses repeats of the same key within a time window.
//
// The notifier uses it so a flapping connection or a replayed backend
// error surfaces once instead of once per frame.
package dedupe
