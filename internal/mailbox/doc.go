// Package mailbox defines the provider-neutral view of a user's mailbox that
// the engines operate on.
//
// The mailbox provider is the source of truth; every type in this package is
// a read projection or a request against it. Provider is deliberately narrow:
// search with a continuation token, get one message (metadata or full), batch
// label mutation, send, drafts, labels and contacts. Engines in internal/scan,
// internal/mutation and internal/unsubscribe depend only on this surface, so
// they can be exercised against the in-memory fake in mailboxtest.
package mailbox
