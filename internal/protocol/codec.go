package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed means the payload could not be parsed as a discovery message
	ErrMalformed = errors.New("malformed discovery message")
	// ErrMissingField means a mandatory announcement field was absent
	ErrMissingField = errors.New("announcement missing mandatory field")
	// ErrTooLarge means the encoded message would exceed MaxMessageSize
	ErrTooLarge = errors.New("message exceeds maximum datagram size")
)

// EncodeAnnouncement serializes an announcement for the wire. The type
// discriminator is always set so receivers can dispatch without guessing.
func EncodeAnnouncement(a Announcement) ([]byte, error) {
	a.Type = MessageTypeAnnounce
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode announcement: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}

// DecodeAnnouncement parses inbound bytes as an Announcement. All input is
// untrusted: arbitrary, truncated, or oversized bytes produce an error,
// never a panic. A payload with a non-announcement type discriminator is
// rejected as malformed; a missing discriminator is tolerated for older
// announcers that did not send one.
func DecodeAnnouncement(data []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return Announcement{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if a.Type != "" && a.Type != MessageTypeAnnounce {
		return Announcement{}, fmt.Errorf("%w: type %q", ErrMalformed, a.Type)
	}
	if a.Port < 0 || a.Port > 65535 {
		return Announcement{}, fmt.Errorf("%w: port %d", ErrMalformed, a.Port)
	}
	switch {
	case a.Service == "":
		return Announcement{}, fmt.Errorf("%w: service", ErrMissingField)
	case a.IP == "":
		return Announcement{}, fmt.Errorf("%w: ip", ErrMissingField)
	case a.Port == 0:
		return Announcement{}, fmt.Errorf("%w: port", ErrMissingField)
	case a.Key == "":
		return Announcement{}, fmt.Errorf("%w: key", ErrMissingField)
	}
	a.Type = MessageTypeAnnounce
	return a, nil
}

// EncodeRequest serializes a discovery request for the wire.
func EncodeRequest(r DiscoveryRequest) ([]byte, error) {
	r.Type = MessageTypeDiscover
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode discovery request: %w", err)
	}
	return data, nil
}

// DecodeRequest reports whether inbound bytes are a discovery request and
// returns the parsed request if so. JSON payloads are matched on the type
// discriminator (any case). Non-JSON payloads fall back to the legacy
// matcher: a bare DISCOVER token in either case, as sent by the earliest
// clients of this protocol.
func DecodeRequest(data []byte) (DiscoveryRequest, bool) {
	var req DiscoveryRequest
	if err := json.Unmarshal(data, &req); err == nil {
		if strings.EqualFold(string(req.Type), string(MessageTypeDiscover)) {
			req.Type = MessageTypeDiscover
			return req, true
		}
		return DiscoveryRequest{}, false
	}
	if strings.Contains(strings.ToUpper(string(data)), string(MessageTypeDiscover)) {
		return DiscoveryRequest{Type: MessageTypeDiscover}, true
	}
	return DiscoveryRequest{}, false
}
