/*
Package testutil provides test fixtures for the aggledger packages.

It bundles the pieces most ledger tests need: a fully wired in-process
ledger (scheme, local oracle, controllable clock), key generators, and
helpers for producing ciphertext handles and signed request envelopes.

	env := testutil.NewTestLedger(t,
	    testutil.WithCooldown(time.Minute),
	    testutil.WithOwner("admin"),
	)

	value := env.MustEncrypt(t, 3)
	weight := env.MustEncrypt(t, 2)
	_, err := env.Ledger.Submit(provider, value, weight)

This package is intended for testing only.
*/
package testutil
