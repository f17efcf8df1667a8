package idl

import "github.com/uho-indexer/uho/internal/uhoerrors"

func newInvalidIDL(format string, args ...any) error {
	return uhoerrors.NewValidationError(uhoerrors.CodeInvalidIDL, format, args...)
}
