// Package middleware provides HTTP middleware for the identity kernel.
package middleware

import (
	kerrors "github.com/pik-systems/identity-kernel/infrastructure/errors"
)

// Local aliases so the rest of this package can keep its original call
// sites (errUnauthorized, errInternal, ...) while deferring to the single
// taxonomy in infrastructure/errors.
func errUnauthorized(message string) *kerrors.ServiceError { return kerrors.Unauthorized(message) }
func errForbidden(message string) *kerrors.ServiceError     { return kerrors.Forbidden(message) }
func errInternal(message string, err error) *kerrors.ServiceError {
	return kerrors.Internal(message, err)
}
func errTooMany(message string) *kerrors.ServiceError { return kerrors.TooMany(message) }

func getServiceError(err error) *kerrors.ServiceError {
	return kerrors.GetServiceError(err)
}
