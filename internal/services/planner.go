package services

import (
	"sort"

	"github.com/Lllllllleong/pdfingest/internal/models"
	"gitlab.com/tozd/go/errors"
)

// Plan returns the keys in listing whose archives are not yet in the
// processed set. An empty result means there is nothing new to fetch.
func Plan(listing models.Listing, processed ProcessedSet) ([]string, error) {
	if listing.Truncated {
		return nil, errors.Errorf("container %q: %w", listing.Container, ErrListingTruncated)
	}

	seen := make(map[string]string, len(listing.Keys))
	var work []string
	for _, key := range listing.Keys {
		name := models.ArchiveName(key)
		if prev, ok := seen[name]; ok {
			if prev == key {
				continue
			}
			return nil, errors.Errorf("remote keys %q and %q would both be stored as %q", prev, key, name)
		}
		seen[name] = key
		if processed.Contains(name) {
			continue
		}
		work = append(work, key)
	}
	sort.Strings(work)
	return work, nil
}
