package periph

import "fmt"

// SecurityLevel is the ordinal trust tier of a link.
type SecurityLevel uint8

const (
	// SecurityNone is an unencrypted link.
	SecurityNone SecurityLevel = iota
	// SecurityLow is encryption with an unauthenticated legacy key.
	SecurityLow
	// SecurityMedium is encryption with an unauthenticated key (just works).
	SecurityMedium
	// SecurityHigh is encryption with an authenticated key (passkey).
	SecurityHigh
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityNone:
		return "none"
	case SecurityLow:
		return "low"
	case SecurityMedium:
		return "medium"
	case SecurityHigh:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

func (l SecurityLevel) Valid() bool {
	return l <= SecurityHigh
}
