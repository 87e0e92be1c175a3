package models

import "path"

// Listing is the set of archive keys a remote container reported.
// Truncated is set when the store stopped before the listing was complete.
type Listing struct {
	Container string
	Keys      []string
	Truncated bool
}

// ArchiveName is the base name an archive key is stored under locally.
func ArchiveName(key string) string {
	return path.Base(key)
}
