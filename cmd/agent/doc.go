// Package main (cmd/agent) implements the host-side attestation agent. On
// startup the agent opens the TPM, provisions its endorsement and
// attestation identities, and performs the two-phase handshake with the
// registrar: it submits the identity public material, recovers the secret
// from the returned credential challenge inside the TPM, and proves the
// recovery with a keyed hash over its identifier.
//
// Only after the handshake succeeds does the agent start serving. Two
// services then run until the process is stopped:
//
//  1. The evidence API, answering identity and integrity quote requests
//     with TPM-signed statements over caller-supplied nonces, and accepting
//     the delivery of the bootstrap key shares.
//  2. The revocation listener, subscribed to a notification endpoint and
//     reacting to validly signed revocation notices.
//
// The two services fail together: if either terminates with an error the
// process exits non-zero so a supervisor can restart the agent into a fresh
// registration. Nothing is persisted between runs; a restarted agent
// presents a new attestation identity and registers again.
package main
