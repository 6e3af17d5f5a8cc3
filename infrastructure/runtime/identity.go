// Package runtime provides environment/runtime detection helpers shared across the service.
package runtime

import "sync"

// requireTLSOnce caches the TLS requirement check at startup.
var (
	requireTLSOnce  sync.Once
	requireTLSValue bool
)

// ResetRequireTLSCache resets the cached TLS requirement value.
// This should only be used in tests.
func ResetRequireTLSCache() {
	requireTLSOnce = sync.Once{}
	requireTLSValue = false
}

// RequireTLS returns true when outbound base URLs and cookies must use https,
// i.e. whenever the process is running in production.
func RequireTLS() bool {
	requireTLSOnce.Do(func() {
		requireTLSValue = Env() == Production
	})
	return requireTLSValue
}
