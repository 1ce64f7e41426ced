// Package protocol defines the UDP wire messages used for LAN service
// discovery and the shared-key check that authenticates them.
package protocol

// MessageType identifies the discovery message type
type MessageType string

const (
	// MessageTypeAnnounce advertises a service's reachable address
	MessageTypeAnnounce MessageType = "ANNOUNCE"
	// MessageTypeDiscover asks listening servers for an immediate announcement
	MessageTypeDiscover MessageType = "DISCOVER"
)

// Announcement is the UDP payload a server publishes (JSON encoded).
// It is a point-in-time snapshot of a reachable endpoint, not a lease:
// staleness is bounded only by how often the server re-announces.
type Announcement struct {
	Type    MessageType `json:"type,omitempty"`
	Service string      `json:"service"`
	IP      string      `json:"ip"`
	Port    int         `json:"port"`
	Key     string      `json:"key"`

	// Optional metadata, opaque to the protocol but preserved for
	// forward compatibility.
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// DiscoveryRequest provokes a unicast Announcement reply from a server
// running in on-request mode. The ID is echoed in server logs only.
type DiscoveryRequest struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

// MaxMessageSize is the maximum UDP payload size (stay under MTU)
const MaxMessageSize = 1024
