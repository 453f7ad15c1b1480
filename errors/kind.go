package errors

// Kind classifies a failure for the retry layer. The set is closed so that
// retry decisions are exhaustive: every error reaching the retry layer maps
// to exactly one kind, and each kind is either retryable or not.
type Kind int

const (
	// KindUnknown covers errors with no explicit classification.
	// Treated as retryable so a missing annotation degrades to the
	// transient path rather than silently failing a task.
	KindUnknown Kind = iota

	// Transient failures — retried with backoff.

	// KindNetwork is a connection-level failure (reset, refused, DNS).
	KindNetwork
	// KindTimeout is an operation that exceeded its deadline.
	KindTimeout
	// KindTransientUI is an element that was temporarily absent or stale.
	KindTransientUI

	// Non-retryable failures — short-circuit to immediate failure.

	// KindAuth is invalid or expired credentials.
	KindAuth
	// KindInvalidInput is a malformed request the dependency rejected.
	KindInvalidInput
	// KindQuotaExceeded is an exhausted attempt or spend budget.
	KindQuotaExceeded

	// Provider failures — routed through circuit breaking.

	// KindRateLimited is a provider 429; retryable, counts against the circuit.
	KindRateLimited
	// KindUnavailable is a degraded or crashed dependency (5xx, dead browser).
	KindUnavailable
	// KindInvalidResponse is a provider reply that could not be used.
	KindInvalidResponse
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindNetwork:         "network",
	KindTimeout:         "timeout",
	KindTransientUI:     "transient_ui",
	KindAuth:            "auth",
	KindInvalidInput:    "invalid_input",
	KindQuotaExceeded:   "quota_exceeded",
	KindRateLimited:     "rate_limited",
	KindUnavailable:     "unavailable",
	KindInvalidResponse: "invalid_response",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Retryable reports whether the retry layer may attempt the operation again.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindTransientUI, KindRateLimited, KindUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

// kindError attaches a Kind to an error without hiding the cause chain.
type kindError struct {
	cause error
	kind  Kind
}

func (e *kindError) Error() string { return e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }

// WithKind annotates err with a failure kind. Returns nil if err is nil.
// Re-annotating replaces the outermost kind; inner kinds stay reachable
// through the cause chain but KindOf reports the outermost one.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{cause: err, kind: kind}
}

// KindOf returns the outermost Kind annotation on err, or KindUnknown.
func KindOf(err error) Kind {
	var ke *kindError
	if As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err).Retryable()
}
