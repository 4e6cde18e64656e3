// Package services exposes the ledger over HTTP and persists its event
// stream.
//
// Every mutating endpoint accepts a crypto.Signed envelope; the hex encoding
// of the recovered signer key is the caller address handed to the ledger, so
// the ledger's role checks apply to cryptographic identities rather than
// transport-level ones. The oracle callback endpoint additionally requires
// the envelope to be signed by the configured oracle identity before the
// result reaches finalization.
//
// Read endpoints are unauthenticated: batches, entries and decryption
// request contexts are public state.
package services
