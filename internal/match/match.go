// Package match partitions input webcodes into found and missing against a
// project's catalog entries.
package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tbafbrt/Billedhenter/internal/catalog"
	"github.com/tbafbrt/Billedhenter/internal/codes"
)

// Mode selects the equality policy between a catalog product code and a
// search code. Exactly one policy applies per search; policies are never
// blended per file.
type Mode string

const (
	// ModeExact compares trimmed, lower-cased codes for string equality.
	// This is the default and the recommended policy.
	ModeExact Mode = "exact"
	// ModeNumeric compares only the digit runs of both codes.
	ModeNumeric Mode = "numeric"
	// ModeContains accepts a catalog code that contains the search code.
	ModeContains Mode = "contains"
)

// ParseMode validates a mode string, defaulting empty to ModeExact.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeExact, nil
	case ModeExact, ModeNumeric, ModeContains:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown match mode %q, valid modes: exact, numeric, contains", s)
}

// Result partitions the input codes: every deduplicated input code is
// either a key in Found or a member of Missing, never both.
type Result struct {
	// Found maps a normalized input code to its matching entries, sorted
	// by filename so the result is independent of catalog entry order.
	Found map[string][]catalog.Entry
	// Missing holds normalized input codes with no matching entry, in
	// input order.
	Missing []string
	// Inputs are the deduplicated inputs in input order. On duplicate
	// normalized values the first input wins.
	Inputs []codes.Input
}

// Match applies the given equality policy to every catalog entry.
// Pure function: no I/O, deterministic regardless of catalog entry order.
func Match(inputs []codes.Input, cat []catalog.Entry, mode Mode) Result {
	res := Result{Found: make(map[string][]catalog.Entry)}

	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if _, dup := seen[in.Normalized]; dup {
			continue
		}
		seen[in.Normalized] = struct{}{}
		res.Inputs = append(res.Inputs, in)
	}

	for _, e := range cat {
		pc := codes.ExtractProductCode(e.Filename)
		if code, ok := matchCode(pc, res.Inputs, seen, mode); ok {
			res.Found[code] = append(res.Found[code], e)
		}
	}

	for code := range res.Found {
		entries := res.Found[code]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Filename != entries[j].Filename {
				return entries[i].Filename < entries[j].Filename
			}
			return entries[i].URL < entries[j].URL
		})
	}

	for _, in := range res.Inputs {
		if _, ok := res.Found[in.Normalized]; !ok {
			res.Missing = append(res.Missing, in.Normalized)
		}
	}
	return res
}

// matchCode resolves a catalog product code to the input code it matches
// under the policy, if any. Inputs are scanned in input order so the
// outcome never depends on catalog ordering.
func matchCode(productCode string, inputs []codes.Input, exact map[string]struct{}, mode Mode) (string, bool) {
	switch mode {
	case ModeNumeric:
		pd := digitsOnly(productCode)
		if pd == "" {
			return "", false
		}
		for _, in := range inputs {
			if digitsOnly(in.Normalized) == pd {
				return in.Normalized, true
			}
		}
	case ModeContains:
		for _, in := range inputs {
			if strings.Contains(productCode, in.Normalized) {
				return in.Normalized, true
			}
		}
	default: // ModeExact
		if _, ok := exact[productCode]; ok {
			return productCode, true
		}
	}
	return "", false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
