// Package ident parses and orders hierarchical question identifiers such as
// "2.18" and "2.18a".
//
// An identifier is a dotted sequence of non-negative integers (the major
// part) optionally followed by a single lowercase letter (the sub-part).
// Identifiers order numerically element by element, so "2.9" < "2.10", and
// an identifier without a sub-part sorts before its lettered siblings.
//
// Fragments whose label cannot be parsed are kept under a synthetic
// placeholder identifier ("~p<page>.<n>") that orders after every real
// identifier.
package ident

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ErrMalformedIdentifier is the sentinel matched by every *ParseError.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// KindMalformedIdentifier names the parse failure in anomaly records.
const KindMalformedIdentifier = "MalformedIdentifier"

const placeholderPrefix = "~p"

// ParseError reports an identifier that does not match <int>(.<int>)*[a-z]?.
type ParseError struct {
	Input  string
	Kind   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %q: %s", strings.ToLower(e.Kind), e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedIdentifier
}

// Identifier is an immutable hierarchical identifier. The zero value is the
// empty identifier and reports IsZero.
type Identifier struct {
	major []int
	part  byte

	// placeholder identifiers carry the page and ordinal they were minted for
	placeholder bool
	page        int
	ordinal     int
}

// Parse parses an identifier of the form <int>(.<int>)*[a-z]. Leading zeros
// are dropped, so Parse("02.018a") yields "2.18a". Anything else, including
// surrounding whitespace, an uppercase sub-part and the placeholder form, is
// rejected.
func Parse(s string) (Identifier, error) {
	if s == "" {
		return Identifier{}, &ParseError{Input: s, Kind: KindMalformedIdentifier, Reason: "empty"}
	}

	raw := s
	var part byte
	if last := s[len(s)-1]; last >= 'a' && last <= 'z' {
		part = last
		s = s[:len(s)-1]
	}
	if s == "" {
		return Identifier{}, &ParseError{Input: raw, Kind: KindMalformedIdentifier, Reason: "missing numeric component"}
	}

	fields := strings.Split(s, ".")
	major := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := parseComponent(f)
		if err != nil {
			return Identifier{}, &ParseError{Input: raw, Kind: KindMalformedIdentifier, Reason: err.Error()}
		}
		major = append(major, n)
	}
	return Identifier{major: major, part: part}, nil
}

func parseComponent(f string) (int, error) {
	if f == "" {
		return 0, errors.New("empty component")
	}
	for i := 0; i < len(f); i++ {
		if f[i] < '0' || f[i] > '9' {
			return 0, fmt.Errorf("unexpected character %q", f[i])
		}
	}
	n, err := strconv.Atoi(f)
	if err != nil {
		return 0, fmt.Errorf("component %q out of range", f)
	}
	return n, nil
}

func parsePlaceholder(raw string) (Identifier, error) {
	body := strings.TrimPrefix(raw, placeholderPrefix)
	pageStr, ordStr, ok := strings.Cut(body, ".")
	if !ok {
		return Identifier{}, &ParseError{Input: raw, Kind: KindMalformedIdentifier, Reason: "placeholder without ordinal"}
	}
	page, err := parseComponent(pageStr)
	if err != nil {
		return Identifier{}, &ParseError{Input: raw, Kind: KindMalformedIdentifier, Reason: err.Error()}
	}
	ord, err := parseComponent(ordStr)
	if err != nil {
		return Identifier{}, &ParseError{Input: raw, Kind: KindMalformedIdentifier, Reason: err.Error()}
	}
	return Placeholder(page, ord), nil
}

// MustParse is Parse for literals known to be valid. It panics otherwise.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Placeholder mints the synthetic identifier for the ordinal-th fragment on
// page that could not be given a real identifier.
func Placeholder(page, ordinal int) Identifier {
	return Identifier{placeholder: true, page: page, ordinal: ordinal}
}

// String returns the canonical form.
func (id Identifier) String() string {
	if id.placeholder {
		return fmt.Sprintf("%s%d.%d", placeholderPrefix, id.page, id.ordinal)
	}
	if len(id.major) == 0 {
		return ""
	}
	var b strings.Builder
	for i, n := range id.major {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	if id.part != 0 {
		b.WriteByte(id.part)
	}
	return b.String()
}

// IsZero reports whether id is the empty identifier.
func (id Identifier) IsZero() bool {
	return !id.placeholder && len(id.major) == 0
}

// IsPlaceholder reports whether id was minted by Placeholder.
func (id Identifier) IsPlaceholder() bool {
	return id.placeholder
}

// PlaceholderPosition returns the page and ordinal a placeholder was minted
// for. ok is false for real identifiers.
func (id Identifier) PlaceholderPosition() (page, ordinal int, ok bool) {
	if !id.placeholder {
		return 0, 0, false
	}
	return id.page, id.ordinal, true
}

// Part returns the sub-part letter, or 0 when absent.
func (id Identifier) Part() byte {
	return id.part
}

// Major returns a copy of the numeric components.
func (id Identifier) Major() []int {
	return slices.Clone(id.major)
}

// Base strips the sub-part: Base("2.18a") == "2.18".
func (id Identifier) Base() Identifier {
	if id.placeholder || id.part == 0 {
		return id
	}
	return Identifier{major: id.major}
}

// WithPart returns id's base with the given sub-part letter. A zero part
// returns the base itself.
func (id Identifier) WithPart(part byte) Identifier {
	if id.placeholder {
		return id
	}
	if part >= 'A' && part <= 'Z' {
		part = part - 'A' + 'a'
	}
	return Identifier{major: id.major, part: part}
}

// IsChildOf reports whether id is a lettered sub-part of parent.
func (id Identifier) IsChildOf(parent Identifier) bool {
	if id.placeholder || parent.placeholder || id.part == 0 || parent.part != 0 {
		return false
	}
	return slices.Equal(id.major, parent.major)
}

// Equal reports whether a and b denote the same identifier.
func (id Identifier) Equal(other Identifier) bool {
	return Compare(id, other) == 0
}

// Compare returns -1, 0 or +1. Real identifiers order numerically element
// by element with a shorter prefix first; an absent sub-part sorts before
// any letter. Placeholders sort after all real identifiers, by page then
// ordinal. The zero identifier sorts first.
func Compare(a, b Identifier) int {
	switch {
	case a.placeholder && b.placeholder:
		if c := cmpInt(a.page, b.page); c != 0 {
			return c
		}
		return cmpInt(a.ordinal, b.ordinal)
	case a.placeholder:
		return 1
	case b.placeholder:
		return -1
	}
	if c := slices.Compare(a.major, b.major); c != 0 {
		return c
	}
	return cmpInt(int(a.part), int(b.part))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Sort orders ids in place.
func Sort(ids []Identifier) {
	slices.SortStableFunc(ids, Compare)
}

// SortBy orders items in place by the identifier key returns.
func SortBy[T any](items []T, key func(T) Identifier) {
	slices.SortStableFunc(items, func(a, b T) int {
		return Compare(key(a), key(b))
	})
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the
// zero identifier. Unlike Parse it accepts the placeholder form written by
// MarshalText.
func (id *Identifier) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*id = Identifier{}
		return nil
	}
	s := string(text)
	if strings.HasPrefix(s, placeholderPrefix) {
		parsed, err := parsePlaceholder(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
