package agreement

import "errors"

var (
	// ErrValidation signals missing or invalid input, such as publishing a
	// version without content or accepting with an empty origin address.
	ErrValidation = errors.New("agreement: validation failed")
	// ErrPermissionDenied signals an organization ownership mismatch.
	ErrPermissionDenied = errors.New("agreement: permission denied")
	// ErrInvalidState signals an operation illegal for the version's current
	// lifecycle state.
	ErrInvalidState = errors.New("agreement: invalid state for operation")
	// ErrDuplicateCopy signals a second user copy for the same (version,
	// signatory) pair.
	ErrDuplicateCopy = errors.New("agreement: user copy already exists")
	// ErrDuplicateAcceptance signals a second acceptance for the same
	// (signatory, user copy) pair.
	ErrDuplicateAcceptance = errors.New("agreement: acceptance already recorded")
	// ErrAgreementNotFound is returned when no agreement row exists.
	ErrAgreementNotFound = errors.New("agreement: not found")
	// ErrVersionNotFound is returned when no version row exists.
	ErrVersionNotFound = errors.New("agreement: version not found")
	// ErrCopyNotFound is returned when no user copy row exists.
	ErrCopyNotFound = errors.New("agreement: user copy not found")
	// ErrAcceptanceNotFound is returned when no acceptance row exists.
	ErrAcceptanceNotFound = errors.New("agreement: acceptance not found")
)
