// Package api wires every identity-kernel component into its HTTP surface:
// one gorilla/mux router, one handler per endpoint, each written directly
// against httputil.WriteOK/WriteServiceError so every success response
// carries the uniform {status:"ok", data:...} envelope.
package api

import (
	"github.com/pik-systems/identity-kernel/infrastructure/logging"
	"github.com/pik-systems/identity-kernel/internal/configstore"
	"github.com/pik-systems/identity-kernel/internal/consent"
	"github.com/pik-systems/identity-kernel/internal/eventbus"
	"github.com/pik-systems/identity-kernel/internal/identity"
	"github.com/pik-systems/identity-kernel/internal/ingest"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/loot"
	"github.com/pik-systems/identity-kernel/internal/session"
	"github.com/pik-systems/identity-kernel/internal/sourceauth"
	"github.com/pik-systems/identity-kernel/internal/store"
	"github.com/pik-systems/identity-kernel/internal/webauthnengine"
)

// Deps is every collaborator the api package's handlers call into. One
// instance is built at boot in cmd/pikserver and threaded through NewRouter.
type Deps struct {
	DB         *store.Store
	Config     *configstore.Store
	Bus        *eventbus.Bus
	Ledger     *ledger.Ledger
	Identity   *identity.Manager
	Consent    *consent.Manager
	Sources    *sourceauth.Registry
	Sessions   *session.Issuer
	WebAuthn   *webauthnengine.Engine
	Keys       *webauthnengine.KeyManager
	Ingest     *ingest.Engine
	Loot       *loot.Engine
	Log        *logging.Logger
	ImpersonationEnabled bool
}
