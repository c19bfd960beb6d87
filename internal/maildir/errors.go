package maildir

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrInvalidMaildir indicates a path that exists but is not a maildir.
	ErrInvalidMaildir = errors.New("invalid maildir")

	// ErrNoSuchFolder indicates a virtual folder path that does not resolve
	// to a valid maildir.
	ErrNoSuchFolder = errors.New("no such folder")

	// ErrUnknownKey indicates a message key absent from the index after a
	// refresh.
	ErrUnknownKey = errors.New("unknown message key")
)

// InvalidMaildirError reports why a path failed maildir validation.
type InvalidMaildirError struct {
	Path   string
	Reason string
}

func (e *InvalidMaildirError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *InvalidMaildirError) Unwrap() error { return ErrInvalidMaildir }

// NoSuchFolderError reports a virtual folder path that could not be opened.
// It is a specialization of an invalid maildir: the resolved directory either
// does not exist or lacks the maildir structure.
type NoSuchFolderError struct {
	VPath string
	Err   error
}

func (e *NoSuchFolderError) Error() string {
	return fmt.Sprintf("folder %s: %s", e.VPath, e.Err)
}

// Unwrap reports both ErrNoSuchFolder and the underlying open failure, so
// errors.Is(err, ErrInvalidMaildir) also holds.
func (e *NoSuchFolderError) Unwrap() []error {
	return []error{ErrNoSuchFolder, e.Err}
}

// UnknownKeyError reports a message key with no backing file.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("no message with key %s", e.Key)
}

func (e *UnknownKeyError) Unwrap() error { return ErrUnknownKey }
