// Package announce implements the server-side announcement scheduler: it
// owns the UDP sockets for one discovery session and broadcasts or replies
// with announcements according to the configured mode.
package announce

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lanbeacon/lanbeacon/internal/config"
	"github.com/lanbeacon/lanbeacon/internal/netutil"
	"github.com/lanbeacon/lanbeacon/internal/protocol"
)

// readPollInterval bounds how long the request loop blocks before checking
// for cancellation.
const readPollInterval = time.Second

// State is the announcer lifecycle state
type State int32

const (
	// StateIdle means Start has not been called yet
	StateIdle State = iota
	// StateRunning means the announcement loop is active
	StateRunning
	// StateStopped means the announcer has permanently ceased activity
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Announcer runs the announcement schedule for one discovery session. It is
// constructed with its complete configuration and owns its sockets and
// counters exclusively, so multiple instances can coexist in one process.
type Announcer struct {
	cfg     config.Session
	log     *zap.Logger
	clk     clock.Clock
	id      string
	version string

	target     *net.UDPAddr
	listenAddr *net.UDPAddr
	localIP    net.IP

	conn    *net.UDPConn
	payload []byte

	state    atomic.Int32
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// Option customizes an Announcer
type Option func(*Announcer)

// WithLogger sets the logger (default: no-op)
func WithLogger(log *zap.Logger) Option {
	return func(a *Announcer) { a.log = log }
}

// WithClock sets the clock driving the announcement cadence. Tests use a
// mock clock to step through intervals deterministically.
func WithClock(clk clock.Clock) Option {
	return func(a *Announcer) { a.clk = clk }
}

// WithTarget overrides the announcement target address (default: limited
// broadcast on the session's discovery port).
func WithTarget(addr *net.UDPAddr) Option {
	return func(a *Announcer) { a.target = addr }
}

// WithListenAddr overrides the bind address for the request listener
// (default: all interfaces on the session's discovery port).
func WithListenAddr(addr *net.UDPAddr) Option {
	return func(a *Announcer) { a.listenAddr = addr }
}

// WithLocalIP sets the advertised IP, skipping interface resolution.
func WithLocalIP(ip net.IP) Option {
	return func(a *Announcer) { a.localIP = ip }
}

// WithVersion sets the version string carried in announcements.
func WithVersion(v string) Option {
	return func(a *Announcer) { a.version = v }
}

// New creates an announcer for the given session. The session is copied in
// and never mutated afterwards; the mode is fixed for the announcer's
// lifetime.
func New(cfg config.Session, opts ...Option) *Announcer {
	cfg.ApplyDefaults()
	a := &Announcer{
		cfg:  cfg,
		log:  zap.NewNop(),
		clk:  clock.New(),
		id:   uuid.New().String(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.target == nil {
		a.target = &net.UDPAddr{IP: netutil.LimitedBroadcast(), Port: a.cfg.Port}
	}
	if a.listenAddr == nil {
		a.listenAddr = &net.UDPAddr{IP: net.IPv4zero, Port: a.cfg.Port}
	}
	return a
}

// Start transitions the announcer from idle to running: it resolves the
// advertised address, binds the socket for the configured mode, and starts
// the background loop. A resolution or bind failure aborts startup and is
// returned to the caller; the announcer ends up stopped. The context
// cancels the loop, as does Stop.
func (a *Announcer) Start(ctx context.Context) error {
	if !a.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("announcer is %s, not idle", a.State())
	}

	if err := a.start(ctx); err != nil {
		a.state.Store(int32(StateStopped))
		return err
	}

	a.log.Info("announcer started",
		zap.String("id", a.id),
		zap.String("service", a.cfg.ServiceName),
		zap.String("mode", a.cfg.Mode.String()),
		zap.String("advertised", fmt.Sprintf("%s:%d", a.localIP, a.cfg.AdvertisePort)))
	return nil
}

func (a *Announcer) start(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	if a.localIP == nil {
		ip, err := netutil.LocalIPv4()
		if err != nil {
			return fmt.Errorf("resolve local address: %w", err)
		}
		a.localIP = ip
	}

	payload, err := protocol.EncodeAnnouncement(a.announcement())
	if err != nil {
		return fmt.Errorf("build announcement: %w", err)
	}
	a.payload = payload

	var conn *net.UDPConn
	if a.cfg.Mode.Kind == config.ModeOnRequest {
		conn, err = net.ListenUDP("udp4", a.listenAddr)
		if err != nil {
			return fmt.Errorf("bind discovery port %d: %w", a.listenAddr.Port, err)
		}
	} else {
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
		if err != nil {
			return fmt.Errorf("bind send socket: %w", err)
		}
	}
	a.conn = conn

	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	if a.cfg.Mode.Kind == config.ModeOnRequest {
		go a.respondLoop(ctx)
	} else {
		go a.announceLoop(ctx)
	}
	return nil
}

// Stop cancels the loop, closes the socket, and waits for the background
// goroutine to exit. It is idempotent and safe to call from any goroutine.
func (a *Announcer) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.conn != nil {
			a.conn.Close()
		}
		a.wg.Wait()
		a.state.Store(int32(StateStopped))
		a.log.Info("announcer stopped", zap.String("id", a.id))
	})
}

// State returns the current lifecycle state.
func (a *Announcer) State() State {
	return State(a.state.Load())
}

// Done is closed when the announcement loop has exited, either because a
// limited-mode quota was reached or because the announcer was stopped.
func (a *Announcer) Done() <-chan struct{} {
	return a.done
}

// LocalAddr returns the bound socket address, or nil before Start.
func (a *Announcer) LocalAddr() *net.UDPAddr {
	if a.conn == nil {
		return nil
	}
	addr, _ := a.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (a *Announcer) announcement() protocol.Announcement {
	return protocol.Announcement{
		Type:    protocol.MessageTypeAnnounce,
		Service: a.cfg.ServiceName,
		IP:      a.localIP.String(),
		Port:    a.cfg.AdvertisePort,
		Key:     a.cfg.SharedKey,
		Version: a.version,
	}
}

// announceLoop drives the periodic and limited modes: one send immediately,
// then one per interval tick until cancellation or, in limited mode, until
// the quota is reached.
func (a *Announcer) announceLoop(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.done)

	limit := -1
	if a.cfg.Mode.Kind == config.ModeLimited {
		limit = a.cfg.Mode.Count
	}

	sent := 0
	a.send()
	sent++

	ticker := a.clk.Ticker(a.cfg.Mode.Interval)
	defer ticker.Stop()

	for {
		if limit >= 0 && sent >= limit {
			a.log.Info("announcement quota reached, stopping",
				zap.Int("count", sent))
			a.state.Store(int32(StateStopped))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.send()
			sent++
		}
	}
}

// send broadcasts one announcement. Transient failures are logged and the
// schedule continues; one failed send must never end the loop.
func (a *Announcer) send() {
	if _, err := a.conn.WriteToUDP(a.payload, a.target); err != nil {
		// broadcast failures are common on some networks, keep going
		a.log.Warn("announcement send failed", zap.Error(err))
		return
	}
	a.log.Debug("announced",
		zap.String("target", a.target.String()),
		zap.String("service", a.cfg.ServiceName))
}

// respondLoop drives on-request mode: it never sends proactively, and
// answers every decodable discovery request with one unicast announcement
// to the requester's source address. Undecodable datagrams are discarded.
func (a *Announcer) respondLoop(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.done)

	buf := make([]byte, protocol.MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// short read deadline so cancellation is noticed promptly
		a.conn.SetReadDeadline(time.Now().Add(readPollInterval))

		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("discovery read error", zap.Error(err))
			continue
		}

		req, ok := protocol.DecodeRequest(buf[:n])
		if !ok {
			a.log.Debug("ignoring non-request datagram",
				zap.String("from", addr.String()))
			continue
		}

		if _, err := a.conn.WriteToUDP(a.payload, addr); err != nil {
			a.log.Warn("reply send failed",
				zap.String("to", addr.String()),
				zap.Error(err))
			continue
		}
		a.log.Debug("answered discovery request",
			zap.String("to", addr.String()),
			zap.String("request_id", req.ID))
	}
}
