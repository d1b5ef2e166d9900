package agent

import (
	"github.com/ruteri/tee-attestation-agent/interfaces"
)

// Identifier policies understood by ResolveIdentifier besides literal UUIDs.
const (
	IdentifierOpenstack = "openstack"
	IdentifierHashEK    = "hash_ek"
	IdentifierGenerate  = "generate"
)

// ResolveIdentifier maps the configured identifier policy to the identifier
// the agent registers under. The policy literals "openstack" and "hash_ek"
// pass through unchanged, "generate" produces a fresh random identifier, and
// any other value is parsed as a UUID and canonicalized to lowercase. A
// value that fails to parse falls back to a fresh random identifier so the
// agent always starts rather than refusing over a configuration typo. The
// second return value reports whether the configured value itself was used;
// callers surface the fallback since it silently changes the agent identity
// on every restart.
func ResolveIdentifier(configured string) (interfaces.AgentID, bool) {
	switch configured {
	case IdentifierOpenstack, IdentifierHashEK:
		return interfaces.AgentID(configured), true
	case IdentifierGenerate:
		return interfaces.NewRandomAgentID(), true
	}

	id, err := interfaces.NewAgentID(configured)
	if err != nil {
		return interfaces.NewRandomAgentID(), false
	}
	return id, true
}
