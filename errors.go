package rfccache

import "errors"

// Sentinel errors for the kinds enumerated in the error-handling design,
// matched with errors.Is. ParseDate is the only function in this module
// that returns one of them (ErrNoDateHeader); the others name conditions
// that the proxy and the backends handle without returning the sentinel.
// The state machine itself never returns an error; StateMachineMisuseError
// is the panic value of misuse().
var (
	// ErrNoDateHeader indicates a response carried no parsable Date header.
	// ParseDate returns it; CurrentAge falls back to the response time.
	ErrNoDateHeader = errors.New("rfccache: no Date header")

	// ErrStreamAlreadyConsumed names a response body stream without a
	// usable replay source. The proxy works on fully buffered bodies and
	// does not return it.
	ErrStreamAlreadyConsumed = errors.New("rfccache: response stream already consumed")

	// ErrStorageUnavailable names a backing store that cannot be reached.
	// The backends return their driver's own errors rather than this
	// sentinel; the proxy degrades to pass-through on any GetEntries error.
	ErrStorageUnavailable = errors.New("rfccache: storage backend unavailable")

	// ErrSerializationError names a stored entry whose data bundle is
	// corrupt. pgstore and redisstore soft-delete such an entry and skip
	// it; the other backends skip it. None of them return this sentinel.
	ErrSerializationError = errors.New("rfccache: corrupt stored entry")

	// ErrOnlyIfCached names an only-if-cached request with no qualifying
	// entry. The proxy answers such a request with a synthetic 504
	// response and does not return this error.
	ErrOnlyIfCached = errors.New("rfccache: only-if-cached with no usable entry")
)

// StateMachineMisuseError is panicked, not returned, by state transition
// methods called on a terminal state or with arguments of the wrong shape.
type StateMachineMisuseError struct {
	State  string
	Detail string
}

func (e *StateMachineMisuseError) Error() string {
	return "rfccache: misuse of state " + e.State + ": " + e.Detail
}

func misuse(state, detail string) {
	panic(&StateMachineMisuseError{State: state, Detail: detail})
}
