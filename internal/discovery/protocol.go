package discovery

// Wire messages exchanged during a peer handshake. One JSON object per
// line over a short-lived TCP connection.

const (
	msgTypeProbe    = "mj_discovery"
	msgTypeResponse = "mj_discovery_response"
)

// probeMessage is sent by the scanning side to every candidate address.
type probeMessage struct {
	Type            string `json:"type"`
	FromMJID        string `json:"from_mj_id"`
	ProtocolVersion string `json:"protocol_version"`
	Timestamp       string `json:"timestamp"`
}

// probeResponse is returned by a listening agent that recognizes the probe.
type probeResponse struct {
	Type            string   `json:"type"`
	MJID            string   `json:"mj_id"`
	UserName        string   `json:"user_name"`
	Capabilities    []string `json:"capabilities"`
	ProtocolVersion string   `json:"protocol_version"`
	DiscoveryMethod string   `json:"discovery_method"`
}
