package schema

import "github.com/uho-indexer/uho/internal/uhoerrors"

func newInvalidView(format string, args ...any) error {
	return uhoerrors.NewValidationError(uhoerrors.CodeInvalidView, format, args...)
}
