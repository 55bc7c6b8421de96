package pipeline

import (
	"errors"

	"github.com/oralhistory/backend/internal/auth"
)

var (
	// ErrForbidden indicates the caller does not own the asset.
	ErrForbidden = auth.ErrForbidden
	// ErrPayloadTooLarge marks uploads above the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnsupportedMediaType marks uploads of the wrong content type.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)
