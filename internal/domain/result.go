package domain

// ResultStatus tags the outcome of a cache-aside read
type ResultStatus int

const (
	// Found means Value holds the entity
	Found ResultStatus = iota
	// NotFound means the remote store answered and the entity does not exist
	NotFound
	// Unavailable means the remote store failed and the local cache had nothing
	Unavailable
)

func (s ResultStatus) String() string {
	switch s {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Source says which store produced a result
type Source int

const (
	SourceRemote Source = iota
	SourceLocal
)

func (s Source) String() string {
	if s == SourceLocal {
		return "local"
	}
	return "remote"
}

// Result is the outcome of a read. When Source is SourceLocal the value may
// be stale and Err carries the remote failure that caused the fallback.
type Result[T any] struct {
	Value  T
	Status ResultStatus
	Source Source
	Err    error
}

// FoundResult wraps a value read from src
func FoundResult[T any](v T, src Source, cause error) Result[T] {
	return Result[T]{Value: v, Status: Found, Source: src, Err: cause}
}

// NotFoundResult reports an entity the remote store does not have
func NotFoundResult[T any]() Result[T] {
	return Result[T]{Status: NotFound, Err: ErrNotFound}
}

// UnavailableResult reports a remote failure with no usable local data
func UnavailableResult[T any](cause error) Result[T] {
	return Result[T]{Status: Unavailable, Source: SourceLocal, Err: cause}
}

// OK reports whether Value is usable
func (r Result[T]) OK() bool {
	return r.Status == Found
}

// Stale reports whether the value came from the local cache
func (r Result[T]) Stale() bool {
	return r.Status == Found && r.Source == SourceLocal
}
