// Package ledger implements the confidential aggregation ledger core:
// batch lifecycle, encrypted entry submission, homomorphic weighted-sum
// aggregation, and the asynchronous decryption request/callback state
// machine with replay and state-commitment protection.
//
// The Ledger is a single serialized state store. Every operation either
// fully applies or aborts with one of the package's sentinel errors and no
// partial mutation. The only asynchronous boundary is the decryption round
// trip: RequestValuation registers a request with the external oracle and
// returns a correlation id immediately; Finalize arrives later, out of
// band, keyed by that id. Pending requests never expire — a non-responding
// oracle leaves them pending indefinitely.
//
// Homomorphic arithmetic and decryption are consumed as capabilities
// (crypto.Scheme and oracle.Client); the ledger never sees a plaintext
// until a proof-verified finalization delivers the aggregate.
package ledger
