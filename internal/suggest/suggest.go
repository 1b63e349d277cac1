// Package suggest proposes same-base-product alternatives for webcodes that
// had no exact catalog match.
package suggest

import (
	"fmt"
	"strings"

	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/codes"
)

// Suggestion links a missing webcode to a catalog entry for a different
// variant of the same base product.
type Suggestion struct {
	// SourceCode is the missing code the suggestion was generated for.
	SourceCode string `json:"source_code"`
	// Entry is the catalog asset being proposed.
	Entry catalog.Entry `json:"entry"`
	// ProductCode is the alternate variant's product code.
	ProductCode string `json:"product_code"`
	Reason      string `json:"reason"`
}

// Suggest scans the full catalog for variant alternatives to each missing
// code. Only codes with at least 3 hyphen segments have a base product;
// codes below that receive no suggestions, which is a defined no-op rather
// than an error. A suggestion is never the missing code itself.
func Suggest(missing []string, cat []catalog.Entry) map[string][]Suggestion {
	out := make(map[string][]Suggestion)

	for _, miss := range missing {
		base, ok := codes.BaseProduct(miss)
		if !ok {
			continue
		}
		baseLower := strings.ToLower(base)

		for _, e := range cat {
			pc := codes.ExtractProductCode(e.Filename)
			fileBase, ok := codes.BaseProduct(pc)
			if !ok {
				continue
			}
			if strings.ToLower(fileBase) != baseLower || pc == strings.ToLower(miss) {
				continue
			}
			out[miss] = append(out[miss], Suggestion{
				SourceCode:  miss,
				Entry:       e,
				ProductCode: pc,
				Reason: fmt.Sprintf("alternative variant (%s) found for missing variant (%s)",
					pc, miss),
			})
		}
	}
	return out
}
