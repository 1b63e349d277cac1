// Package codes normalizes webcodes and extracts the product codes embedded
// in catalog filenames.
package codes

import (
	"regexp"
	"strings"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
)

var (
	projectScopeRe = regexp.MustCompile(`^([A-Z]{2}\d{5}|\d{5})`)
	strictCodeRe   = regexp.MustCompile(`^[A-Z]{0,2}\d{5}-\d{4}-\d{2}$`)
	digitRe        = regexp.MustCompile(`\d`)
	splitRe        = regexp.MustCompile(`[\s,]+`)
)

// Input is a user-supplied webcode together with its comparable form.
// Immutable once created.
type Input struct {
	Raw        string
	Normalized string
}

// NewInput builds an Input from a raw code. Codes that normalize to the
// empty string are rejected before they can reach matching.
func NewInput(raw string) (Input, error) {
	n := Normalize(raw)
	if n == "" {
		return Input{}, &apperr.InvalidCodeError{Code: raw, Reason: "code is empty or whitespace"}
	}
	return Input{Raw: raw, Normalized: n}, nil
}

// Normalize returns the comparable form of a raw code: trimmed and
// lower-cased.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ExtractProductCode derives the product code embedded in a catalog
// filename: the substring before the first "_", else before the first "(",
// else the whole filename; trimmed and lower-cased.
//
// Filenames without either delimiter use the whole filename, which makes a
// bare-code filename collide with the code itself. Documented behavior.
func ExtractProductCode(filename string) string {
	if i := strings.Index(filename, "_"); i >= 0 {
		return Normalize(filename[:i])
	}
	if i := strings.Index(filename, "("); i >= 0 {
		return Normalize(filename[:i])
	}
	return Normalize(filename)
}

// ExtractProjectScope derives the project code from a webcode
// (LLDDDDD or DDDDD prefix). An empty result means the scope could not be
// auto-detected and the caller should offer a manual override.
func ExtractProjectScope(code string) string {
	m := projectScopeRe.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return ""
	}
	return m[1]
}

// BaseProduct strips the final hyphen segment (the variant) from a code.
// Codes with fewer than 3 hyphen segments have no base product.
func BaseProduct(code string) (string, bool) {
	parts := strings.Split(code, "-")
	if len(parts) < 3 {
		return "", false
	}
	return strings.Join(parts[:len(parts)-1], "-"), true
}

// ParseResult is the outcome of parsing free-text webcode input.
type ParseResult struct {
	// Codes are the accepted raw codes, in input order.
	Codes []string
	// Implausible are tokens that do not look like webcodes. They are
	// reported to the caller, not silently dropped into the search.
	Implausible []string
}

// ParseText splits pasted free text into webcodes. Tokens are separated by
// whitespace or commas. A token is accepted when it matches the strict
// webcode shape, or leniently when it contains at least one digit and a
// hyphen; everything else is reported as implausible.
func ParseText(input string) (ParseResult, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ParseResult{}, &apperr.InvalidCodeError{Reason: "input is empty"}
	}

	var res ParseResult
	for _, tok := range splitRe.Split(trimmed, -1) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		switch {
		case strictCodeRe.MatchString(tok):
			res.Codes = append(res.Codes, tok)
		case digitRe.MatchString(tok) && strings.Contains(tok, "-"):
			res.Codes = append(res.Codes, tok)
		default:
			res.Implausible = append(res.Implausible, tok)
		}
	}

	if len(res.Codes) == 0 {
		return ParseResult{}, &apperr.InvalidCodeError{
			Reason: "no valid webcodes found, expected format like IC23022-0072-00",
		}
	}
	return res, nil
}

// Inputs converts accepted raw codes into Input values, skipping codes that
// fail normalization and reporting them back to the caller.
func Inputs(raw []string) (inputs []Input, rejected []string) {
	for _, r := range raw {
		in, err := NewInput(r)
		if err != nil {
			rejected = append(rejected, r)
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, rejected
}
