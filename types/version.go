package types

// Version is the canonical project version.
// The CLI, the bridge library and the wire protocol share this version
// under the lockstep versioning policy.
const Version = "0.2.0"

// ProtocolVersion is the wire protocol version advertised to the remote
// runtime at launch. It must equal Version.
const ProtocolVersion = Version
