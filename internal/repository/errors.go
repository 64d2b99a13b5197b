package repository

import (
	"errors"

	"invoice-automation-backend/internal/apperr"

	"gorm.io/gorm"
)

// translate maps gorm's not-found to a NotFoundError and anything else to
// an InfrastructureError tagged with op.
func translate(err error, resource, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(resource)
	}
	return apperr.Infrastructure(err, op)
}
