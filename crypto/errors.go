package crypto

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound is returned when an operation references keys for a
// connection that never registered or has been revoked.
var ErrKeyNotFound = errors.New("crypto: key not found")

// CodecError wraps any failure inside the seal/open pipeline. A codec
// call either succeeds completely or returns a CodecError; no partially
// decrypted or partially decoded content is ever returned.
type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func codecErr(op string, err error) *CodecError {
	return &CodecError{Op: op, Err: err}
}

func codecErrf(op, format string, args ...any) *CodecError {
	return &CodecError{Op: op, Err: fmt.Errorf(format, args...)}
}
