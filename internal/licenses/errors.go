package licenses

import "errors"

var (
	// ErrCodeNotFound: redemption was attempted with a code that was never
	// issued. An expected outcome, not a fault.
	ErrCodeNotFound = errors.New("license code not found")

	// ErrAlreadyRedeemed: the code was redeemed before. The original
	// redeemer's machine id is preserved; the rejected caller's is not
	// recorded.
	ErrAlreadyRedeemed = errors.New("license code already redeemed")

	// ErrExhaustedRetries: creation could not find an unused code within the
	// collision retry budget.
	ErrExhaustedRetries = errors.New("could not generate a unique license code")
)
