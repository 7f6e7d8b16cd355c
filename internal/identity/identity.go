// Package identity derives stable, content-based identifiers for
// vehicles and parts. Identifiers must be identical across independent
// runs so repeated crawl passes converge instead of duplicating data.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeBrand canonicalizes a brand token: short tokens (three runes
// or fewer, e.g. "ktm", "bmw") are upper-cased, everything else is
// title-cased.
func NormalizeBrand(brand string) string {
	brand = strings.TrimSpace(brand)
	if brand == "" {
		return ""
	}
	if len([]rune(brand)) <= 3 {
		return strings.ToUpper(brand)
	}
	return titleCase(brand)
}

// VehicleID hashes the normalized brand-model pair.
func VehicleID(brand, model string) string {
	key := strings.ToLower(NormalizeBrand(brand) + "-" + strings.TrimSpace(model))
	return digest(key)
}

// PartID hashes the owning vehicle id together with the part number, or
// the part name when no number is known.
func PartID(vehicleID, partNumber, name string) string {
	discriminator := strings.TrimSpace(partNumber)
	if discriminator == "" {
		discriminator = strings.TrimSpace(name)
	}
	return digest(strings.ToLower(vehicleID + "-" + discriminator))
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		switch {
		case !prevLetter && unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
		default:
			b.WriteRune(unicode.ToLower(r))
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}
