package errorList

import (
	"errors"
	"fmt"
)

// ErrTooManyErrors is added to the ErrorList by the Trim method.
var ErrTooManyErrors = errors.New("too many errors")

// FileError is a failure to process a single component file.
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// ErrorList wraps multiple errors as a single error.
type ErrorList []error

func (errs ErrorList) Error() string {
	switch len(errs) {
	case 0:
		return "<no errors>"
	case 1:
		return errs[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", errs[0].Error(), len(errs[1:]))
}

// Unwrap makes every wrapped error visible to errors.Is and errors.As.
func (errs ErrorList) Unwrap() []error { return errs }

// ErrOrNil returns nil if ErrorList is empty, or the error otherwise.
func (errs ErrorList) ErrOrNil() error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Append an error to the list.
//
// If err is an instance of ErrorList, the lists are concatenated together,
// otherwise err is appended at the end of the list. If err is nil, the list is
// returned unmodified.
//
//	err := Compose(unit)
//	errList = errList.Append(err)
func (errs ErrorList) Append(err error) ErrorList {
	if err == nil {
		return errs
	}
	if err, ok := err.(ErrorList); ok {
		return append(errs, err...)
	}
	return append(errs, err)
}

// AppendFile appends err attributed to filename. A nil err leaves the list
// unmodified.
func (errs ErrorList) AppendFile(filename string, err error) ErrorList {
	if err == nil {
		return errs
	}
	return errs.Append(&FileError{Filename: filename, Err: err})
}

// AppendDistinct is similar to Append, but doesn't append the error if it has
// the same message as the last error on the list.
func (errs ErrorList) AppendDistinct(err error) ErrorList {
	if err == nil {
		return errs
	}
	if l := len(errs); l > 0 {
		if prev := errs[l-1]; prev != nil && err.Error() == prev.Error() {
			return errs
		}
	}

	return errs.Append(err)
}

// Trim the error list if it has more than limit errors. If the list is trimmed,
// all extraneous errors are replaced with a single ErrTooManyErrors, making the
// returned ErrorList length of limit+1.
func (errs ErrorList) Trim(limit int) ErrorList {
	if len(errs) <= limit {
		return errs
	}

	return append(errs[:limit:limit], ErrTooManyErrors)
}

// Files returns the names of the files with a FileError, in order.
func (errs ErrorList) Files() []string {
	var files []string
	for _, err := range errs {
		var fErr *FileError
		if errors.As(err, &fErr) {
			files = append(files, fErr.Filename)
		}
	}
	return files
}
