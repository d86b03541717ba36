package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceKey is an exact, totally ordered price used to key order-flow levels.
// Two keys built from "50000", "50000.0" and "50000.00" compare equal and
// canonicalize to the same map key, so a ladder never splits a price level
// over representation differences.
type PriceKey struct {
	dec decimal.Decimal
}

// ParsePrice builds a PriceKey from an exchange wire string.
func ParsePrice(s string) (PriceKey, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return PriceKey{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return PriceKey{dec: d}, nil
}

// MustPrice is ParsePrice for literals in tests and fixtures; it panics on
// malformed input.
func MustPrice(s string) PriceKey {
	k, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return k
}

// PriceFromFloat builds a PriceKey from an already-parsed float.
func PriceFromFloat(f float64) PriceKey {
	return PriceKey{dec: decimal.NewFromFloat(f)}
}

// Key returns the canonical map-key representation. Trailing fractional
// zeros are stripped so equal prices always produce identical keys.
func (k PriceKey) Key() string {
	s := k.dec.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// Cmp compares two prices exactly: -1 if k < o, 0 if equal, +1 if k > o.
func (k PriceKey) Cmp(o PriceKey) int {
	return k.dec.Cmp(o.dec)
}

// Less reports whether k orders strictly before o.
func (k PriceKey) Less(o PriceKey) bool {
	return k.dec.Cmp(o.dec) < 0
}

// Equal reports exact price equality.
func (k PriceKey) Equal(o PriceKey) bool {
	return k.dec.Cmp(o.dec) == 0
}

// Float64 returns the nearest float64, for display and ratio math only.
func (k PriceKey) Float64() float64 {
	f, _ := k.dec.Float64()
	return f
}

// IsZero reports whether the key is the zero value or an explicit zero price.
func (k PriceKey) IsZero() bool {
	return k.dec.IsZero()
}

func (k PriceKey) String() string {
	return k.Key()
}
