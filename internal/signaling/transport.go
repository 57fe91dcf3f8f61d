package signaling

// TransportState is what the peer-connection primitive reports about the
// media path. Only the two states that affect Call.Status are modeled.
type TransportState string

const (
	TransportConnected TransportState = "connected"
	TransportFailed    TransportState = "failed"
)

// PeerTransport is the external peer-connection collaborator. The
// coordinator forwards remote session descriptions and ICE candidates to
// it; codec and media internals live entirely behind this interface.
type PeerTransport interface {
	SetRemoteDescription(sdp string) error
	AddCandidate(candidate string) error
	Close()
}

// TransportFactory builds the transport for one call. Deployments that run
// signaling only (clients own their peer connections) use NoopTransport.
type TransportFactory func(callID string) PeerTransport

// NoopTransport ignores all forwarded signaling material
type NoopTransport struct{}

func (NoopTransport) SetRemoteDescription(string) error { return nil }
func (NoopTransport) AddCandidate(string) error         { return nil }
func (NoopTransport) Close()                            {}

// NewNoopTransport is the default TransportFactory
func NewNoopTransport(string) PeerTransport { return NoopTransport{} }
