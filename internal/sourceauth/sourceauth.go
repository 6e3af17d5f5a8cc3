// Package sourceauth implements SourceRegistry (CRUD + key issuance) and the
// ApiKeyAuth middleware. Keys are generated as rand → hex → SHA-256 hash, in
// a `pik_` + 48-hex-char format.
package sourceauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// idPattern enforces the Source id grammar.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,48}[a-z0-9]$`)

const keyPrefix = "pik_"

// Registry manages Source rows and their API keys.
type Registry struct {
	db *store.Store
}

// New wraps a Store for source management.
func New(db *store.Store) *Registry {
	return &Registry{db: db}
}

// generateKey returns a plaintext key of the form pik_<48 hex chars> and
// its SHA-256 hash, the only form persisted.
func generateKey() (plaintext, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	plaintext = keyPrefix + hex.EncodeToString(raw)
	sum := sha256.Sum256([]byte(plaintext))
	hash = hex.EncodeToString(sum[:])
	return plaintext, hash, nil
}

// HashKey exposes the same hash function for the ApiKeyAuth middleware.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Register validates the id and creates a new Source, returning its
// plaintext API key exactly once.
func (r *Registry) Register(ctx context.Context, sourceID, displayName string) (*model.Source, string, error) {
	if !idPattern.MatchString(sourceID) {
		return nil, "", errors.BadRequest("invalid source id: must match ^[a-z0-9][a-z0-9-]{2,48}[a-z0-9]$")
	}

	plaintext, hash, err := generateKey()
	if err != nil {
		return nil, "", errors.Internal("failed to generate source key", err)
	}

	s := &model.Source{
		SourceID:    sourceID,
		DisplayName: displayName,
		Status:      model.SourceStatusActive,
		APIKeyHash:  hash,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.db.CreateSource(ctx, s); err != nil {
		if err == store.ErrAlreadyExists {
			return nil, "", errors.Conflict("source already exists: " + sourceID)
		}
		return nil, "", err
	}

	return s, plaintext, nil
}

// Get loads one source by id.
func (r *Registry) Get(ctx context.Context, sourceID string) (*model.Source, error) {
	s, err := r.db.GetSource(ctx, sourceID)
	if err == store.ErrNotFound {
		return nil, errors.NotFound("source", sourceID)
	}
	return s, err
}

// List returns every registered source.
func (r *Registry) List(ctx context.Context) ([]model.Source, error) {
	return r.db.ListSources(ctx)
}

// RotateKey atomically swaps a source's key hash, returning the new
// plaintext key. The previous key stops authenticating immediately.
func (r *Registry) RotateKey(ctx context.Context, sourceID string) (string, error) {
	if _, err := r.Get(ctx, sourceID); err != nil {
		return "", err
	}

	plaintext, hash, err := generateKey()
	if err != nil {
		return "", errors.Internal("failed to generate source key", err)
	}

	if err := r.db.UpdateSourceAPIKeyHash(ctx, sourceID, hash); err != nil {
		return "", err
	}
	return plaintext, nil
}

// allowedStatuses enumerates the valid Source.Status transitions.
var allowedStatuses = map[string]bool{
	model.SourceStatusActive:      true,
	model.SourceStatusSuspended:   true,
	model.SourceStatusDeactivated: true,
}

// SetStatus transitions a source's lifecycle status.
func (r *Registry) SetStatus(ctx context.Context, sourceID, status string) error {
	if !allowedStatuses[status] {
		return errors.BadRequest("invalid source status: " + status)
	}
	if _, err := r.Get(ctx, sourceID); err != nil {
		return err
	}
	return r.db.UpdateSourceStatus(ctx, sourceID, status)
}

// Authenticate resolves the source identified by a presented plaintext API
// key. It never distinguishes "missing" from "unknown" from "suspended" in
// its returned error — a single opaque message — to avoid leaking which
// failure mode occurred.
func (r *Registry) Authenticate(ctx context.Context, plaintext string) (*model.Source, error) {
	if plaintext == "" {
		return nil, errors.Forbidden("invalid API key")
	}
	hash := HashKey(plaintext)
	s, err := r.db.GetActiveSourceByAPIKeyHash(ctx, hash)
	if err == store.ErrNotFound {
		return nil, errors.Forbidden("invalid API key")
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
