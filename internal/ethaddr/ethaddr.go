// Package ethaddr holds small address helpers shared by every surface that
// accepts user-typed addresses. Validation happens here, before anything is
// packed into calldata.
package ethaddr

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var hexAddrRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Valid reports whether s is a 0x-prefixed 40-hex-digit address.
func Valid(s string) bool {
	return hexAddrRe.MatchString(strings.TrimSpace(s))
}

// Normalize returns the canonical lower-cased form used for comparisons and
// as storage keys. Input must already be Valid.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Parse validates and converts to a common.Address.
func Parse(s string) (common.Address, bool) {
	s = strings.TrimSpace(s)
	if !hexAddrRe.MatchString(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// Equal compares two addresses case-insensitively.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Shorten renders an address as 0x1234…abcd for display. Short inputs are
// returned untouched.
func Shorten(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
