// Package core contains the canonical connector domain contracts, entities,
// and orchestration logic: the token lifecycle, consent normalization, funds
// confirmation, and the session callback contract against the compliance hub.
// Lower-level adapters must depend on this package; core must not depend on
// provider-specific or transport-specific adapters.
package core
