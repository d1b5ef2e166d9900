package common

// Version is the service version, overridden at build time with
// -ldflags "-X github.com/ruteri/tee-attestation-agent/common.Version=...".
var Version = "dev"

// PackageName is the metrics namespace for all agent components.
const PackageName = "tee_attestation_agent"
