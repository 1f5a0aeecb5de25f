package recorder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/imishinist/mlflow-recorder/internal/codec"
)

var (
	// ErrPrecondition matches every *PreconditionError.
	ErrPrecondition = errors.New("precondition failed")
	// ErrBackendUnavailable matches every *BackendError.
	ErrBackendUnavailable = errors.New("tracking backend unavailable")
	// ErrAmbiguousInvocation is returned by SaveObjects when both a local
	// path and named objects are supplied.
	ErrAmbiguousInvocation = errors.New("ambiguous invocation")
	// ErrInvalidStatus is returned by EndRun for values outside the four run statuses.
	ErrInvalidStatus = errors.New("invalid run status")
	// ErrArtifactNotFound matches every *NotFoundError.
	ErrArtifactNotFound = errors.New("artifact not found")

	ErrSerialization = codec.ErrSerialization
	ErrUndecodable   = codec.ErrUndecodable
)

// PreconditionError reports an operation attempted in a state that does not allow it.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// BackendError wraps a failed tracking service call. Key names the
// parameter, metric, tag or object being written, when there is one.
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %q: tracking backend: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: tracking backend: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// NotFoundError reports an artifact the backend does not have. It is not a
// BackendError: retrying will not help.
type NotFoundError struct {
	Op   string
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %v: %v", e.Op, e.Name, ErrArtifactNotFound, e.Err)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrArtifactNotFound
}

// SaveError reports which object stopped a SaveObjects call and which
// objects had already been uploaded by then.
type SaveError struct {
	Name     string
	Uploaded []string
	Err      error
}

func (e *SaveError) Error() string {
	if len(e.Uploaded) == 0 {
		return fmt.Sprintf("save_objects: object %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("save_objects: object %q (already uploaded: %s): %v",
		e.Name, strings.Join(e.Uploaded, ", "), e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
