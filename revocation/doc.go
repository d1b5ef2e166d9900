// Package revocation subscribes the agent to revocation notices and reacts
// to the verified ones.
//
// A Source yields signed notices; the Listener verifies each signature
// against the configured trust anchor, drops and logs invalid notices, and
// invokes the configured actions exactly once per verified notice. A
// terminal source failure stops the listener with an error, which the
// caller treats as fatal to the whole agent.
package revocation
