// Package discover implements the consumer side of LAN service discovery:
// passive listening for broadcast announcements and active on-demand
// discovery requests.
package discover

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanbeacon/lanbeacon/internal/config"
	"github.com/lanbeacon/lanbeacon/internal/netutil"
	"github.com/lanbeacon/lanbeacon/internal/protocol"
	"github.com/lanbeacon/lanbeacon/internal/registry"
)

// ErrTimeout means no key-matching announcement arrived within the caller's
// deadline. A wrong-key announcement is reported identically to silence, so
// a prober cannot tell "wrong key" from "no server present".
var ErrTimeout = errors.New("discovery timed out")

// Endpoint is a discovered service address
type Endpoint struct {
	Service string
	IP      string
	Port    int
}

// Addr returns the endpoint as host:port
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// Client discovers services announced with a matching shared key. Each call
// owns its own socket; a Client carries no state between calls and is safe
// to reuse.
type Client struct {
	key    string
	port   int
	target *net.UDPAddr
	log    *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithLogger sets the logger (default: no-op)
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithPort sets the announcement port to listen and send on
// (default: config.DefaultPort).
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithTarget overrides the discovery-request target address (default:
// limited broadcast on the announcement port).
func WithTarget(addr *net.UDPAddr) Option {
	return func(c *Client) { c.target = addr }
}

// New creates a client expecting announcements keyed with key. The key and
// port are the client's own deployment-time configuration; nothing syncs
// them with the server.
func New(key string, opts ...Option) *Client {
	c := &Client{
		key:  key,
		port: config.DefaultPort,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.target == nil {
		c.target = &net.UDPAddr{IP: netutil.LimitedBroadcast(), Port: c.port}
	}
	return c
}

// Discover listens passively on the announcement port until a key-matching
// announcement arrives, returning its endpoint. Undecodable datagrams and
// announcements with a non-matching key are skipped silently; if nothing
// valid arrives within timeout the result is ErrTimeout.
func (c *Client) Discover(timeout time.Duration) (Endpoint, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: c.port})
	if err != nil {
		return Endpoint{}, fmt.Errorf("bind announcement port %d: %w", c.port, err)
	}
	defer conn.Close()

	return c.await(conn, timeout)
}

// Request broadcasts one discovery request, then waits for the unicast
// reply like Discover. Repetition on timeout is the caller's business.
func (c *Client) Request(timeout time.Duration) (Endpoint, error) {
	conn, err := c.sendRequest()
	if err != nil {
		return Endpoint{}, err
	}
	defer conn.Close()

	return c.await(conn, timeout)
}

// DiscoverAll broadcasts one discovery request and collects every distinct
// key-matching server that answers before the timeout, deduplicated by
// advertised endpoint. An empty result is not an error: zero servers is a
// legitimate answer to a survey.
func (c *Client) DiscoverAll(timeout time.Duration) ([]Endpoint, error) {
	conn, err := c.sendRequest()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	found := registry.New()
	deadline := time.Now().Add(timeout)
	buf := make([]byte, protocol.MaxMessageSize)

	for {
		conn.SetReadDeadline(deadline)
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			return nil, fmt.Errorf("read announcement: %w", err)
		}

		a, ok := c.accept(buf[:n], addr)
		if !ok {
			continue
		}
		if !found.Upsert(a) {
			c.log.Debug("duplicate response", zap.String("endpoint", a.IP))
		}
	}

	entries := found.List()
	endpoints := make([]Endpoint, 0, len(entries))
	for _, entry := range entries {
		endpoints = append(endpoints, Endpoint{
			Service: entry.Announcement.Service,
			IP:      entry.Announcement.IP,
			Port:    entry.Announcement.Port,
		})
	}
	return endpoints, nil
}

func (c *Client) sendRequest() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind request socket: %w", err)
	}

	req := protocol.DiscoveryRequest{ID: uuid.New().String()}
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.WriteToUDP(data, c.target); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send discovery request: %w", err)
	}
	c.log.Debug("discovery request sent",
		zap.String("target", c.target.String()),
		zap.String("request_id", req.ID))
	return conn, nil
}

// await blocks on conn until a key-matching announcement arrives or the
// deadline passes.
func (c *Client) await(conn *net.UDPConn, timeout time.Duration) (Endpoint, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, protocol.MaxMessageSize)

	for {
		conn.SetReadDeadline(deadline)
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return Endpoint{}, ErrTimeout
			}
			return Endpoint{}, fmt.Errorf("read announcement: %w", err)
		}

		a, ok := c.accept(buf[:n], addr)
		if !ok {
			continue
		}
		return Endpoint{Service: a.Service, IP: a.IP, Port: a.Port}, nil
	}
}

// accept decodes and authenticates one datagram. Rejections are not
// errors: unrelated services may share the broadcast domain, so the
// listener just keeps waiting.
func (c *Client) accept(data []byte, from *net.UDPAddr) (protocol.Announcement, bool) {
	a, err := protocol.DecodeAnnouncement(data)
	if err != nil {
		c.log.Debug("ignoring undecodable datagram",
			zap.String("from", from.String()),
			zap.Error(err))
		return protocol.Announcement{}, false
	}
	if !protocol.KeyMatches(a.Key, c.key) {
		c.log.Debug("ignoring announcement with non-matching key",
			zap.String("from", from.String()),
			zap.String("service", a.Service))
		return protocol.Announcement{}, false
	}
	return a, true
}
