// Package tpm implements the hardware root of trust on top of a TPM 2.0
// device. It owns the endorsement and attestation key handles, performs
// credential activation against registrar challenges, and produces signed
// quotes for the evidence API.
//
// The device session is exclusive: all operations are serialized through a
// single mutex, so the concurrent HTTP handlers above never interleave
// device commands.
//
// MockDevice provides a deterministic in-memory implementation of
// interfaces.Device for tests.
package tpm
