package errorsx

import "errors"

// ClassifiedError wraps an error with a kind and a reason code.
type ClassifiedError struct {
	Err    error
	Kind   Kind
	Reason ReasonCode
}

func (e ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ClassifiedError) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind and reason to an error (no-op if err is nil or already classified).
func Wrap(err error, kind Kind, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return err
	}
	return ClassifiedError{Err: err, Kind: kind, Reason: reason}
}

// Provider wraps a vendor failure as a recoverable provider error.
func Provider(err error, reason ReasonCode) error {
	return Wrap(err, KindProvider, reason)
}

// KindOf extracts the kind from an error, if present.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Reason extracts a reason code from an error, if present.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonUnknown
}

// HasKind returns true if err carries the given kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
