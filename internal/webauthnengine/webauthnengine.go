// Package webauthnengine implements WebAuthnEngine and KeyManager: the
// registration and authentication ceremonies against
// github.com/go-webauthn/webauthn, challenge persistence via internal/store,
// and the transactional choreography around them: credential storage,
// counter discipline, ledger appends and session issuance.
package webauthnengine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/session"
	"github.com/pik-systems/identity-kernel/internal/store"
)

const challengeTTL = 5 * time.Minute

// Config carries the environment-derived WebAuthn relying-party parameters.
type Config struct {
	RPDisplayName string
	RPID          string
	Origin        string
}

// Engine runs both registration and authentication ceremonies.
type Engine struct {
	wa      *webauthn.WebAuthn
	db      *store.Store
	ledger  *ledger.Ledger
	session *session.Issuer
}

// New builds the WebAuthn verifier from Config and wraps the engine's
// collaborators.
func New(cfg Config, db *store.Store, led *ledger.Ledger, issuer *session.Issuer) (*Engine, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     []string{cfg.Origin},
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationPreferred,
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
		},
	})
	if err != nil {
		return nil, errors.Internal("failed to configure webauthn relying party", err)
	}
	return &Engine{wa: wa, db: db, ledger: led, session: issuer}, nil
}

// pikUser adapts a RootIdentity + its active AuthKeys to webauthn.User.
type pikUser struct {
	rootID  string
	name    string
	keys    []model.AuthKey
}

func (u *pikUser) WebAuthnID() []byte          { return []byte(u.rootID) }
func (u *pikUser) WebAuthnName() string        { return u.name }
func (u *pikUser) WebAuthnDisplayName() string { return u.name }
func (u *pikUser) WebAuthnIcon() string        { return "" }

func (u *pikUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.keys))
	for _, k := range u.keys {
		transports := make([]protocol.AuthenticatorTransport, 0, len(k.Transports))
		for _, t := range k.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, webauthn.Credential{
			ID:        k.CredentialID,
			PublicKey: k.PublicKey,
			Transport: transports,
			Authenticator: webauthn.Authenticator{
				SignCount: uint32(k.SignCount),
			},
		})
	}
	return out
}

// sessionMetadata is what Engine persists into WebAuthnChallenge.Metadata —
// the library's own SessionData plus PIK-specific enrollment context.
type sessionMetadata struct {
	WebAuthnSession webauthn.SessionData `json:"webauthn_session"`
	HeroName        string               `json:"hero_name,omitempty"`
	FateAlignment   string               `json:"fate_alignment,omitempty"`
	Origin          *string              `json:"origin,omitempty"`
	EnrolledBy      string               `json:"enrolled_by,omitempty"`
	SourceID        *string              `json:"source_id,omitempty"`
	Purpose         string               `json:"purpose,omitempty"` // "" (first-time) or "rotation"
}

func newRandomChallengeID() string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// RegistrationOptionsInput carries phase-1 registration fields.
type RegistrationOptionsInput struct {
	HeroName      string
	FateAlignment string
	Origin        *string
	EnrolledBy    string
	SourceID      *string
	RootID        *string // non-nil for key rotation against an existing identity
}

// RegistrationOptionsResult is what phase 1 returns to the caller.
type RegistrationOptionsResult struct {
	Options     *protocol.CredentialCreation
	ChallengeID string
}

// BeginRegistration starts either first-time enrollment (RootID nil) or key
// rotation (RootID set, excludeCredentials populated from active keys).
func (e *Engine) BeginRegistration(ctx context.Context, in RegistrationOptionsInput) (*RegistrationOptionsResult, error) {
	var user *pikUser
	meta := sessionMetadata{
		HeroName:      in.HeroName,
		FateAlignment: in.FateAlignment,
		Origin:        in.Origin,
		EnrolledBy:    in.EnrolledBy,
		SourceID:      in.SourceID,
	}

	if in.RootID != nil {
		root, err := e.db.GetRootIdentity(ctx, *in.RootID)
		if err == store.ErrNotFound {
			return nil, errors.NotFound("root identity", *in.RootID)
		}
		if err != nil {
			return nil, err
		}
		keys, err := e.db.ListActiveAuthKeysByRoot(ctx, *in.RootID)
		if err != nil {
			return nil, err
		}
		user = &pikUser{rootID: root.RootID, name: root.HeroName, keys: keys}
		meta.Purpose = "rotation"
	} else {
		user = &pikUser{rootID: uuid.NewString(), name: in.HeroName}
	}

	creation, sessionData, err := e.wa.BeginRegistration(user)
	if err != nil {
		return nil, errors.BadRequest("failed to begin registration: " + err.Error())
	}
	meta.WebAuthnSession = *sessionData

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Internal("failed to encode registration metadata", err)
	}

	var rootIDPtr *string
	if in.RootID != nil {
		rootIDPtr = in.RootID
	}

	challenge := &model.WebAuthnChallenge{
		ChallengeID: newRandomChallengeID(),
		Challenge:   sessionData.Challenge,
		Type:        model.ChallengeTypeRegistration,
		RootID:      rootIDPtr,
		Metadata:    metaJSON,
		ExpiresAt:   time.Now().UTC().Add(challengeTTL),
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.db.CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	return &RegistrationOptionsResult{Options: creation, ChallengeID: challenge.ChallengeID}, nil
}

// FinishRegistrationResult is what phase 2 returns on success.
type FinishRegistrationResult struct {
	RootID            string
	KeyID             string
	HeroName          string
	SessionToken      string
	SessionExpiresAt  time.Time
	LinkID            *string
}

// extractClientDataChallenge pulls the WebAuthn challenge value out of the
// clientDataJSON embedded in the attestation/assertion response body, the
// only reliable way to look the pending ceremony up before parsing it
// against a webauthn.SessionData whose Challenge we don't know yet.
func extractClientDataChallenge(body []byte) (string, error) {
	var parsed struct {
		Response struct {
			ClientDataJSON string `json:"clientDataJSON"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	raw, err := protocol.URLEncodedBase64(parsed.Response.ClientDataJSON).MarshalJSON()
	_ = raw
	decoded, err := base64.RawURLEncoding.DecodeString(parsed.Response.ClientDataJSON)
	if err != nil {
		return "", err
	}
	var clientData protocol.CollectedClientData
	if err := json.Unmarshal(decoded, &clientData); err != nil {
		return "", err
	}
	return clientData.Challenge, nil
}

// FinishRegistration verifies an attestation response against its
// previously-issued challenge and, on success, runs a single transaction:
// create-or-attach, key storage, optional consent link, ledger appends. The
// session is minted after that transaction commits.
func (e *Engine) FinishRegistration(ctx context.Context, r *http.Request, body []byte) (*FinishRegistrationResult, error) {
	rawChallenge, err := extractClientDataChallenge(body)
	if err != nil {
		return nil, errors.BadRequest("invalid attestation response")
	}

	pending, err := e.db.ConsumeChallenge(ctx, rawChallenge, time.Now().UTC())
	if err == store.ErrNotFound {
		return nil, errors.BadRequest("unknown, expired, or already-used challenge")
	}
	if err != nil {
		return nil, err
	}
	if pending.Type != model.ChallengeTypeRegistration {
		return nil, errors.BadRequest("challenge type mismatch")
	}

	var meta sessionMetadata
	if err := json.Unmarshal(pending.Metadata, &meta); err != nil {
		return nil, errors.Internal("failed to decode registration metadata", err)
	}

	var user *pikUser
	isRotation := meta.Purpose == "rotation"
	if isRotation {
		if pending.RootID == nil {
			return nil, errors.BadRequest("rotation challenge missing root id")
		}
		root, err := e.db.GetRootIdentity(ctx, *pending.RootID)
		if err == store.ErrNotFound {
			return nil, errors.NotFound("root identity", *pending.RootID)
		}
		if err != nil {
			return nil, err
		}
		keys, err := e.db.ListActiveAuthKeysByRoot(ctx, *pending.RootID)
		if err != nil {
			return nil, err
		}
		user = &pikUser{rootID: root.RootID, name: root.HeroName, keys: keys}
	} else {
		user = &pikUser{rootID: uuid.NewString(), name: meta.HeroName}
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		return nil, errors.BadRequest("invalid attestation response: " + err.Error())
	}

	cred, err := e.wa.CreateCredential(user, meta.WebAuthnSession, parsed)
	if err != nil {
		return nil, errors.BadRequest("attestation verification failed: " + err.Error())
	}

	rootID := user.rootID
	now := time.Now().UTC()
	keyID := uuid.NewString()

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	var linkID *string

	events, err := e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if !isRotation {
			root := &model.RootIdentity{
				RootID:        rootID,
				HeroName:      meta.HeroName,
				FateAlignment: meta.FateAlignment,
				Origin:        meta.Origin,
				FateXP:        0,
				FateLevel:     1,
				Status:        model.IdentityStatusActive,
				EnrolledBy:    meta.EnrolledBy,
				EnrolledAt:    now,
			}
			if err := q.CreateRootIdentity(ctx, root); err != nil {
				return err
			}
			persona := &model.Persona{
				PersonaID: uuid.NewString(),
				RootID:    rootID,
				Name:      meta.HeroName,
				IsPrimary: true,
				CreatedAt: now,
			}
			if err := q.CreatePersona(ctx, persona); err != nil {
				return err
			}
		}

		authKey := &model.AuthKey{
			KeyID:        keyID,
			RootID:       rootID,
			CredentialID: cred.ID,
			PublicKey:    cred.PublicKey,
			SignCount:    uint64(cred.Authenticator.SignCount),
			DeviceType:   string(cred.AttestationType),
			BackedUp:     cred.Flags.BackupState,
			Transports:   transports,
			FriendlyName: "passkey",
			Status:       model.KeyStatusActive,
			CreatedAt:    now,
		}
		if err := q.CreateAuthKey(ctx, authKey); err != nil {
			if err == store.ErrAlreadyExists {
				return errors.Conflict("credential already registered")
			}
			return err
		}

		if !isRotation {
			if _, err := appendEvent(ledger.AppendInput{
				RootID:    rootID,
				EventType: "identity.enrolled",
				Payload: map[string]any{
					"hero_name":      meta.HeroName,
					"fate_alignment": meta.FateAlignment,
					"enrolled_by":    meta.EnrolledBy,
				},
			}); err != nil {
				return err
			}
		}

		if _, err := appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "key.registered",
			Payload: map[string]any{
				"key_id": keyID,
			},
		}); err != nil {
			return err
		}

		if !isRotation && meta.SourceID != nil && *meta.SourceID != "" {
			source, err := q.GetSource(ctx, *meta.SourceID)
			if err == nil && source.Status == model.SourceStatusActive {
				link := &model.SourceLink{
					LinkID:    uuid.NewString(),
					RootID:    rootID,
					SourceID:  *meta.SourceID,
					Scope:     "progression",
					Status:    model.LinkStatusActive,
					GrantedBy: meta.EnrolledBy,
					GrantedAt: now,
				}
				if err := q.CreateSourceLink(ctx, link); err != nil {
					return err
				}
				linkID = &link.LinkID
				if _, err := appendEvent(ledger.AppendInput{
					RootID:    rootID,
					EventType: "source.link_granted",
					SourceID:  meta.SourceID,
					Payload: map[string]any{
						"link_id":   link.LinkID,
						"source_id": *meta.SourceID,
					},
				}); err != nil {
					return err
				}
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = events

	issued, err := e.session.Issue(ctx, rootID)
	if err != nil {
		return nil, err
	}

	return &FinishRegistrationResult{
		RootID:           rootID,
		KeyID:            keyID,
		HeroName:         meta.HeroName,
		SessionToken:     issued.Token,
		SessionExpiresAt: issued.ExpiresAt,
		LinkID:           linkID,
	}, nil
}

// AuthenticationOptionsInput carries phase-1 authentication fields.
type AuthenticationOptionsInput struct {
	RootID *string // nil requests a discoverable (usernameless) ceremony
}

// AuthenticationOptionsResult is what phase 1 returns to the caller.
type AuthenticationOptionsResult struct {
	Options     *protocol.CredentialAssertion
	ChallengeID string
}

// BeginAuthentication starts an assertion ceremony, scoped to a known root
// id's active keys or left discoverable.
func (e *Engine) BeginAuthentication(ctx context.Context, in AuthenticationOptionsInput) (*AuthenticationOptionsResult, error) {
	var assertion *protocol.CredentialAssertion
	var sessionData *webauthn.SessionData
	var err error

	if in.RootID != nil {
		root, getErr := e.db.GetRootIdentity(ctx, *in.RootID)
		if getErr == store.ErrNotFound {
			return nil, errors.NotFound("root identity", *in.RootID)
		}
		if getErr != nil {
			return nil, getErr
		}
		keys, keysErr := e.db.ListActiveAuthKeysByRoot(ctx, *in.RootID)
		if keysErr != nil {
			return nil, keysErr
		}
		user := &pikUser{rootID: root.RootID, name: root.HeroName, keys: keys}
		assertion, sessionData, err = e.wa.BeginLogin(user)
	} else {
		assertion, sessionData, err = e.wa.BeginDiscoverableLogin()
	}
	if err != nil {
		return nil, errors.BadRequest("failed to begin authentication: " + err.Error())
	}

	meta := sessionMetadata{WebAuthnSession: *sessionData}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Internal("failed to encode authentication metadata", err)
	}

	challenge := &model.WebAuthnChallenge{
		ChallengeID: newRandomChallengeID(),
		Challenge:   sessionData.Challenge,
		Type:        model.ChallengeTypeAuthentication,
		RootID:      in.RootID,
		Metadata:    metaJSON,
		ExpiresAt:   time.Now().UTC().Add(challengeTTL),
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.db.CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	return &AuthenticationOptionsResult{Options: assertion, ChallengeID: challenge.ChallengeID}, nil
}

// FinishAuthenticationResult is what phase 2 returns on success.
type FinishAuthenticationResult struct {
	RootID           string
	SessionToken     string
	SessionExpiresAt time.Time
}

// FinishAuthentication verifies an assertion against its previously-issued
// challenge, enforcing the counter-monotonicity invariant before minting a
// session.
func (e *Engine) FinishAuthentication(ctx context.Context, body []byte) (*FinishAuthenticationResult, error) {
	rawChallenge, err := extractClientDataChallenge(body)
	if err != nil {
		return nil, errors.Unauthorized("invalid assertion response")
	}

	pending, err := e.db.ConsumeChallenge(ctx, rawChallenge, time.Now().UTC())
	if err == store.ErrNotFound {
		return nil, errors.BadRequest("unknown, expired, or already-used challenge")
	}
	if err != nil {
		return nil, err
	}
	if pending.Type != model.ChallengeTypeAuthentication {
		return nil, errors.BadRequest("challenge type mismatch")
	}

	var meta sessionMetadata
	if err := json.Unmarshal(pending.Metadata, &meta); err != nil {
		return nil, errors.Internal("failed to decode authentication metadata", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return nil, errors.Unauthorized("invalid assertion response: " + err.Error())
	}

	authKey, err := e.db.GetAuthKeyByCredentialID(ctx, parsed.RawID)
	if err == store.ErrNotFound {
		return nil, errors.Unauthorized("unknown credential")
	}
	if err != nil {
		return nil, err
	}
	if authKey.Status != model.KeyStatusActive {
		return nil, errors.Unauthorized("credential has been revoked")
	}

	root, err := e.db.GetRootIdentity(ctx, authKey.RootID)
	if err == store.ErrNotFound {
		return nil, errors.Unauthorized("unknown credential")
	}
	if err != nil {
		return nil, err
	}
	if root.Status != model.IdentityStatusActive {
		return nil, errors.Unauthorized("identity is not active")
	}

	user := &pikUser{rootID: root.RootID, name: root.HeroName, keys: []model.AuthKey{*authKey}}

	cred, err := e.wa.ValidateLogin(user, meta.WebAuthnSession, parsed)
	if err != nil {
		return nil, errors.Unauthorized("assertion verification failed: " + err.Error())
	}

	newCounter := uint64(cred.Authenticator.SignCount)
	if authKey.SignCount > 0 && newCounter <= authKey.SignCount {
		return nil, errors.Unauthorized("authenticator counter did not increase — possible cloned credential")
	}

	now := time.Now().UTC()
	if err := e.db.UpdateAuthKeyCounter(ctx, authKey.KeyID, newCounter, now); err != nil {
		return nil, err
	}

	_, err = e.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		_, err := appendEvent(ledger.AppendInput{
			RootID:    root.RootID,
			EventType: "identity.authenticated",
			Payload: map[string]any{
				"key_id": authKey.KeyID,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	issued, err := e.session.Issue(ctx, root.RootID)
	if err != nil {
		return nil, err
	}

	return &FinishAuthenticationResult{
		RootID:           root.RootID,
		SessionToken:     issued.Token,
		SessionExpiresAt: issued.ExpiresAt,
	}, nil
}
