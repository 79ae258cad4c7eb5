package types

import (
	"errors"
	"fmt"
)

var (
	// ErrSpawnFailure means the command could not be started; no report exists.
	ErrSpawnFailure = errors.New("spawn failure")
	// ErrSourceUnavailable means the process table could not be read at all.
	ErrSourceUnavailable = errors.New("process source unavailable")
	// ErrSamplingFailed means source failures persisted past the threshold.
	ErrSamplingFailed = errors.New("sampling failed")
	// ErrRecordParse marks a single malformed process record.
	ErrRecordParse = errors.New("malformed process record")
)

// ErrorKind classifies failures surfaced by the core.
type ErrorKind int

const (
	KindSpawn ErrorKind = iota + 1
	KindSourceUnavailable
	KindSamplingFailed
	KindRecordParse
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindSpawn:
		return ErrSpawnFailure
	case KindSourceUnavailable:
		return ErrSourceUnavailable
	case KindSamplingFailed:
		return ErrSamplingFailed
	case KindRecordParse:
		return ErrRecordParse
	}
	return nil
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. errors.Is matches it against the sentinel of its kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}
