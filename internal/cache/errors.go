package cache

import "fmt"

// CorruptEntryError reports a restored artifact whose content no longer
// matches the stored manifest. It is non-fatal: callers degrade to a forced
// re-execution instead of serving bad artifacts.
type CorruptEntryError struct {
	Key    string
	Path   string
	Reason string
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("corrupted cache entry %s (artifact %s): %s", e.Key, e.Path, e.Reason)
}
