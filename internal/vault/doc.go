// Package vault owns mailbox connections and the OAuth tokens behind them.
//
// A Connection holds the encrypted access and refresh tokens for one
// (owner, provider) pair. Callers never see the stored form: they ask the
// Vault for a valid access token, or for an http.Client that carries one, and
// the Vault refreshes through the provider's token endpoint when the stored
// token is within the expiry skew of its deadline. A refreshed token,
// its new expiry and any rotated refresh token are persisted in a single
// Store.Put.
//
// Stores are pluggable: MemoryStore for tests and single-process use,
// SQLiteStore for a local file, ValkeyStore for shared deployments.
package vault
