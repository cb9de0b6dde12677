package rp

import "fmt"

// ErrOverMaximumTokens is returned (wrapped in an Error) when a caller
// Requests more tokens than the Protector's maxSimultaneous allows.
const ErrOverMaximumTokens = "numTokens exceeds the maximum simultaneous tokens this protector allows"

// Error is returned by Protector methods, identifying which resource and
// operation failed.
type Error struct {
	Resource string
	Op       string
	Receipt  Receipt
	Err      string
}

func (e Error) Error() string {
	if e.Receipt != "" {
		return fmt.Sprintf("rp: %s %s [%s]: %s", e.Resource, e.Op, e.Receipt, e.Err)
	}
	return fmt.Sprintf("rp: %s %s: %s", e.Resource, e.Op, e.Err)
}
