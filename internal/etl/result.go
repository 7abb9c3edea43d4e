package etl

// Outcome tags the result of a lookup or write against the search engine.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	// OutcomeError means the backend failed and the answer is unknown. It
	// never means the document is absent.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Result is a value, a confirmed absence, or a backend failure.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

func OK[T any](v T) Result[T] {
	return Result[T]{Outcome: OutcomeOK, Value: v}
}

func NotFound[T any]() Result[T] {
	return Result[T]{Outcome: OutcomeNotFound}
}

func Failure[T any](err error) Result[T] {
	return Result[T]{Outcome: OutcomeError, Err: err}
}

func (r Result[T]) IsOK() bool { return r.Outcome == OutcomeOK }

func (r Result[T]) IsNotFound() bool { return r.Outcome == OutcomeNotFound }
