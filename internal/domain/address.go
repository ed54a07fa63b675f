package domain

import "strings"

// Address identifies a participant (a member wallet, the custody account, the treasury).
type Address string

// NormalizeAddress trims and lower-cases a raw address.
func NormalizeAddress(raw string) Address {
	return Address(strings.ToLower(strings.TrimSpace(raw)))
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a == "" }

func (a Address) String() string { return string(a) }
