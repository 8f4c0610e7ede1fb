package cbmerr

import (
	"errors"
	"fmt"
	"io/fs"
)

// Error is an error carrying a CBM code. Track and Sector are reported in
// the status line for BLOCK errors (and as the file count for FilesScratched).
type Error struct {
	Code   Code
	Track  byte
	Sector byte
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", StatusLine(e.Code, e.Track, e.Sector), e.Err)
	}
	return StatusLine(e.Code, e.Track, e.Sector)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with the given code and no cause.
func New(c Code) *Error {
	return &Error{Code: c}
}

// Wrap attaches a code to err. A nil err still yields an error, so callers
// can use it for conditions detected without an underlying cause.
func Wrap(c Code, err error) *Error {
	return &Error{Code: c, Err: err}
}

// Errorf is Wrap with a formatted cause.
func Errorf(c Code, format string, args ...any) *Error {
	return &Error{Code: c, Err: fmt.Errorf(format, args...)}
}

// WithTS returns an *Error with track and sector set.
func WithTS(c Code, track, sector byte) *Error {
	return &Error{Code: c, Track: track, Sector: sector}
}

// CodeOf extracts the CBM code from err. nil maps to OK, *Error to its code,
// host filesystem errors go through FromOS.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return FromOS(err)
}

// TSOf returns the track and sector carried by err, if any.
func TSOf(err error) (track, sector byte) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Track, ce.Sector
	}
	return 0, 0
}

// fromFSSentinel maps the portable io/fs sentinels. It is the fallback for
// errors that carry no errno (9P, in-memory providers, Windows).
func fromFSSentinel(err error) (Code, bool) {
	switch {
	case errors.Is(err, fs.ErrExist):
		return FileExists, true
	case errors.Is(err, fs.ErrNotExist):
		return FileNotFound, true
	case errors.Is(err, fs.ErrPermission):
		return NoPermission, true
	case errors.Is(err, fs.ErrInvalid):
		return SyntaxInval, true
	case errors.Is(err, fs.ErrClosed):
		return FileNotOpen, true
	}
	return Fault, false
}
