package types

// SessionMeta identifies one bridge session for logging and metrics.
type SessionMeta struct {
	// SessionID is a UUID assigned when the session starts.
	SessionID string
	// Remote is the command used to launch the remote runtime.
	Remote string
	// Codec is the payload codec name.
	Codec string
}
