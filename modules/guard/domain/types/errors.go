package types

import "errors"

var (
	errNoJSONObject = errors.New("no json object in classifier output")
	errUnknownLabel = errors.New("classifier label missing or unknown")
)

// ClassificationError reports malformed classifier output. It is recovered
// locally with FallbackDecision and never reaches the user.
type ClassificationError struct {
	Op  string
	Raw string
	Err error
}

func (e *ClassificationError) Error() string { return "classification " + e.Op + ": " + e.Err.Error() }
func (e *ClassificationError) Unwrap() error { return e.Err }

// GenerationError reports a failure of the text generation backend.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string { return "generation " + e.Op + ": " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

// StorageError reports a failed durable clause write. The in-memory corpus is
// unchanged when it is returned.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// PolicyConfigError reports a malformed rule configuration.
type PolicyConfigError struct {
	Rule string
	Msg  string
	Err  error
}

func (e *PolicyConfigError) Error() string {
	msg := "policy config"
	if e.Rule != "" {
		msg += " rule " + e.Rule
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PolicyConfigError) Unwrap() error { return e.Err }

func IsClassificationError(err error) bool {
	_, ok := errors.AsType[*ClassificationError](err)
	return ok
}

func IsGenerationError(err error) bool {
	_, ok := errors.AsType[*GenerationError](err)
	return ok
}

func IsStorageError(err error) bool {
	_, ok := errors.AsType[*StorageError](err)
	return ok
}

func IsPolicyConfigError(err error) bool {
	_, ok := errors.AsType[*PolicyConfigError](err)
	return ok
}
