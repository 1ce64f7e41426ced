package announce

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lanbeacon/lanbeacon/internal/config"
	"github.com/lanbeacon/lanbeacon/internal/protocol"
)

func testSession(mode config.Mode) config.Session {
	return config.Session{
		SharedKey:     "SECRETKEY123",
		ServiceName:   "lanbeacon-test",
		AdvertisePort: 3000,
		Mode:          mode,
	}
}

// newTestListener binds a loopback socket that stands in for the broadcast
// domain: announcers under test are pointed at it with WithTarget.
func newTestListener(t *testing.T) (*net.UDPConn, *net.UDPAddr) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	addr := conn.LocalAddr().(*net.UDPAddr)
	return conn, addr
}

func recvAnnouncement(t *testing.T, conn *net.UDPConn, timeout time.Duration) (protocol.Announcement, bool) {
	t.Helper()
	buf := make([]byte, protocol.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return protocol.Announcement{}, false
		}
		t.Fatalf("read failed: %v", err)
	}
	a, err := protocol.DecodeAnnouncement(buf[:n])
	require.NoError(t, err)
	return a, true
}

func waitForState(t *testing.T, a *Announcer, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("announcer state = %s, want %s", a.State(), want)
}

func TestLimitedSendsExactly(t *testing.T) {
	listener, target := newTestListener(t)

	const count = 3
	interval := time.Minute
	mock := clock.NewMock()

	a := New(testSession(config.Limited(interval, count)),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(mock),
		WithTarget(target),
		WithLocalIP(net.IPv4(127, 0, 0, 1)))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	// first announcement goes out immediately
	first, ok := recvAnnouncement(t, listener, 2*time.Second)
	require.True(t, ok, "no initial announcement")
	assert.Equal(t, "lanbeacon-test", first.Service)
	assert.Equal(t, 3000, first.Port)
	assert.Equal(t, "SECRETKEY123", first.Key)

	// let the loop reach its ticker before stepping the clock
	time.Sleep(50 * time.Millisecond)

	for i := 1; i < count; i++ {
		mock.Add(interval)
		_, ok := recvAnnouncement(t, listener, 2*time.Second)
		require.True(t, ok, "missing announcement %d", i+1)
	}

	waitForState(t, a, StateStopped)

	// quota reached: further ticks must produce nothing
	mock.Add(interval)
	mock.Add(interval)
	if _, ok := recvAnnouncement(t, listener, 300*time.Millisecond); ok {
		t.Fatal("announcer sent past its quota")
	}
}

func TestPeriodicCadence(t *testing.T) {
	listener, target := newTestListener(t)

	interval := 30 * time.Second
	mock := clock.NewMock()

	a := New(testSession(config.Periodic(interval)),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(mock),
		WithTarget(target),
		WithLocalIP(net.IPv4(127, 0, 0, 1)))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	_, ok := recvAnnouncement(t, listener, 2*time.Second)
	require.True(t, ok, "no initial announcement")

	time.Sleep(50 * time.Millisecond)

	// one announcement per interval, observed over three ticks
	for i := 0; i < 3; i++ {
		mock.Add(interval)
		_, ok := recvAnnouncement(t, listener, 2*time.Second)
		require.True(t, ok, "missing announcement after tick %d", i+1)
	}

	// no extra sends between ticks
	if _, ok := recvAnnouncement(t, listener, 300*time.Millisecond); ok {
		t.Fatal("unexpected announcement between ticks")
	}

	a.Stop()
	waitForState(t, a, StateStopped)
}

func TestOnRequestRepliesUnicast(t *testing.T) {
	a := New(testSession(config.OnRequest()),
		WithLogger(zaptest.NewLogger(t)),
		WithListenAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}),
		WithLocalIP(net.IPv4(127, 0, 0, 1)))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	serverAddr := a.LocalAddr()
	require.NotNil(t, serverAddr)

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer client.Close()

	// no unsolicited sends in on-request mode
	buf := make([]byte, protocol.MaxMessageSize)
	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := client.ReadFromUDP(buf); err == nil {
		t.Fatal("received datagram before sending a request")
	}

	// garbage is discarded without a reply
	_, err = client.WriteToUDP([]byte("\x00\xffgarbage"), serverAddr)
	require.NoError(t, err)
	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := client.ReadFromUDP(buf); err == nil {
		t.Fatal("got a reply to a non-request datagram")
	}

	// a real request gets exactly one unicast reply
	reqData, err := protocol.EncodeRequest(protocol.DiscoveryRequest{ID: "req-1"})
	require.NoError(t, err)
	_, err = client.WriteToUDP(reqData, serverAddr)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := client.ReadFromUDP(buf)
	require.NoError(t, err, "no reply to discovery request")
	assert.Equal(t, serverAddr.Port, from.Port)

	reply, err := protocol.DecodeAnnouncement(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "lanbeacon-test", reply.Service)
	assert.Equal(t, 3000, reply.Port)

	// exactly one reply per request
	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := client.ReadFromUDP(buf); err == nil {
		t.Fatal("got more than one reply to a single request")
	}
}

func TestOnRequestAnswersLegacyToken(t *testing.T) {
	a := New(testSession(config.OnRequest()),
		WithLogger(zaptest.NewLogger(t)),
		WithListenAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}),
		WithLocalIP(net.IPv4(127, 0, 0, 1)))
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	client, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.WriteToUDP([]byte("DISCOVER"), a.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, protocol.MaxMessageSize)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := client.ReadFromUDP(buf)
	require.NoError(t, err, "no reply to legacy DISCOVER token")

	_, err = protocol.DecodeAnnouncement(buf[:n])
	assert.NoError(t, err)
}

func TestStartBindFailure(t *testing.T) {
	occupied, addr := newTestListener(t)
	defer occupied.Close()

	a := New(testSession(config.OnRequest()),
		WithListenAddr(addr),
		WithLocalIP(net.IPv4(127, 0, 0, 1)))
	err := a.Start(context.Background())
	require.Error(t, err, "bind to an occupied port must fail startup")
	assert.Equal(t, StateStopped, a.State())
}

func TestStartRejectsInvalidSession(t *testing.T) {
	a := New(config.Session{Mode: config.OnRequest()},
		WithLocalIP(net.IPv4(127, 0, 0, 1)))
	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, a.State())
}

func TestLifecycle(t *testing.T) {
	_, target := newTestListener(t)

	a := New(testSession(config.Periodic(time.Minute)),
		WithClock(clock.NewMock()),
		WithTarget(target),
		WithLocalIP(net.IPv4(127, 0, 0, 1)))

	assert.Equal(t, StateIdle, a.State())
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StateRunning, a.State())

	// second Start must be rejected
	require.Error(t, a.Start(context.Background()))

	a.Stop()
	a.Stop() // idempotent
	assert.Equal(t, StateStopped, a.State())

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after Stop")
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	_, target := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	a := New(testSession(config.Periodic(time.Minute)),
		WithClock(clock.NewMock()),
		WithTarget(target),
		WithLocalIP(net.IPv4(127, 0, 0, 1)))
	require.NoError(t, a.Start(ctx))

	cancel()
	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancellation")
	}
	a.Stop()
}
