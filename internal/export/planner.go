// Package export turns a selection into an archive manifest and builds the
// final zip from it.
package export

import (
	"path"
	"strconv"
	"strings"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
	"github.com/tbafbrt/Billedhenter/internal/selection"
)

// MaxBatchSize is the maximum number of assets in one archive.
const MaxBatchSize = 300

// Item is one planned archive entry.
type Item struct {
	// Identity is the registry key the item was planned from.
	Identity string `json:"identity"`
	URL      string `json:"url"`
	// FinalFilename is the archive entry name without extension; the
	// archive writer appends ".jpg".
	FinalFilename string `json:"final_filename"`
	OwnerCode     string `json:"owner_code"`
}

// Manifest is the ordered, renamed, collision-resolved list of assets to be
// archived. Order follows the registry's canonical order.
type Manifest struct {
	Items []Item `json:"items"`
}

// Plan builds the manifest for the registry's current selection.
//
// Found entries keep their original filename; suggestion entries are renamed
// to mark their provenance, or rewritten to the desired variant when
// renameAlternates is set. Filename collisions within the manifest get a
// "_copyN" suffix, N counting from 1 for the second occurrence.
//
// Selections above MaxBatchSize fail with TooManySelectedError before any
// planning work.
func Plan(reg *selection.Registry, renameAlternates bool) (Manifest, error) {
	selected := reg.SelectedEntries()
	if len(selected) > MaxBatchSize {
		return Manifest{}, &apperr.TooManySelectedError{Selected: len(selected), Limit: MaxBatchSize}
	}

	var m Manifest
	seen := make(map[string]int, len(selected))

	for _, e := range selected {
		var name string
		if e.ID.Role == selection.RoleFound {
			name = e.Asset.Filename
		} else {
			name = suggestionFilename(e.OwnerCode, e.Asset.Filename, renameAlternates)
		}

		seen[name]++
		final := name
		if n := seen[name]; n > 1 {
			final = name + "_copy" + strconv.Itoa(n-1)
		}

		m.Items = append(m.Items, Item{
			Identity:      e.ID.Key(),
			URL:           e.Asset.URL,
			FinalFilename: final,
			OwnerCode:     e.OwnerCode,
		})
	}
	return m, nil
}

// suggestionFilename names a suggested asset. Without renaming the name
// records both the searched code and the source file. With renaming the
// variant segment of the filename is rewritten to the variant the user
// actually searched for, e.g. AB23456-0023-00_01 becomes AB23456-0023-50_01
// when the owner code is AB23456-0023-50. Preconditions that fail (no "_",
// no "-", fewer than 3 hyphen segments) fall back to a "_renamed" marker.
func suggestionFilename(ownerCode, original string, renameAlternates bool) string {
	if !renameAlternates {
		return ownerCode + "_" + original + "_suggested"
	}

	ownerParts := strings.Split(ownerCode, "-")
	if len(ownerParts) < 3 {
		return ownerCode + "_" + original + "_suggested"
	}
	desiredVariant := ownerParts[len(ownerParts)-1]

	// The archive writer appends ".jpg", so any extension on the source
	// filename is normalized away before rewriting.
	name := strings.TrimSuffix(original, path.Ext(original))
	base, suffix, ok := strings.Cut(name, "_")
	if !ok {
		return ownerCode + "_" + original + "_renamed"
	}
	baseParts := strings.Split(base, "-")
	if len(baseParts) < 3 {
		return ownerCode + "_" + original + "_renamed"
	}
	baseParts[len(baseParts)-1] = desiredVariant
	return strings.Join(baseParts, "-") + "_" + suffix
}
