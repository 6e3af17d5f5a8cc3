package api

import (
	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// mapRootLookupErr translates a raw store.ErrNotFound into the taxonomy
// WriteServiceError expects; other errors pass through unchanged.
func mapRootLookupErr(err error, rootID string) error {
	if err == store.ErrNotFound {
		return errors.NotFound("root identity", rootID)
	}
	return err
}
