package config

import (
	"fmt"
	"time"
)

const (
	// DefaultPort is the default UDP port announcements travel on
	DefaultPort = 8888
	// DefaultInterval is the default periodic announcement cadence
	DefaultInterval = 30 * time.Second
	// DefaultServiceName identifies this service type to clients
	DefaultServiceName = "lanbeacon"
)

// ModeKind selects the announcement scheduling behavior
type ModeKind int

const (
	// ModePeriodic broadcasts unconditionally on a fixed cadence, forever
	ModePeriodic ModeKind = iota
	// ModeOnRequest never broadcasts proactively; it replies to requests
	ModeOnRequest
	// ModeLimited broadcasts on a fixed cadence, then stops after Count sends
	ModeLimited
)

// Mode describes the scheduler's cadence. It is chosen once at startup and
// fixed for the lifetime of an announcer instance.
type Mode struct {
	Kind     ModeKind
	Interval time.Duration // periodic and limited
	Count    int           // limited only
}

// Periodic returns a mode that broadcasts every interval, forever.
func Periodic(interval time.Duration) Mode {
	return Mode{Kind: ModePeriodic, Interval: interval}
}

// OnRequest returns a mode that only replies to discovery requests.
func OnRequest() Mode {
	return Mode{Kind: ModeOnRequest}
}

// Limited returns a mode that broadcasts every interval, stopping
// permanently after count sends.
func Limited(interval time.Duration, count int) Mode {
	return Mode{Kind: ModeLimited, Interval: interval, Count: count}
}

func (m Mode) String() string {
	switch m.Kind {
	case ModePeriodic:
		return fmt.Sprintf("periodic(%s)", m.Interval)
	case ModeOnRequest:
		return "on-request"
	case ModeLimited:
		return fmt.Sprintf("limited(%s x%d)", m.Interval, m.Count)
	}
	return "unknown"
}

// ParseMode maps the CLI/file notation to a ModeKind.
func ParseMode(s string) (ModeKind, error) {
	switch s {
	case "periodic", "":
		return ModePeriodic, nil
	case "on-request", "onrequest", "on_request":
		return ModeOnRequest, nil
	case "limited":
		return ModeLimited, nil
	}
	return 0, fmt.Errorf("unknown announcement mode %q (want periodic, on-request, or limited)", s)
}

// Session holds everything an announcer needs: the shared key, the service
// name, the discovery port, the mode, and the port the hosting application
// wants advertised. It is copied into the announcer at construction and
// never mutated afterwards.
type Session struct {
	// SharedKey is the pre-distributed secret clients must present
	SharedKey string
	// ServiceName identifies the service type (e.g. distinguishes environments)
	ServiceName string
	// Port is the UDP port announcements are sent to and requests arrive on
	Port int
	// AdvertisePort is the hosting application's reachable port, carried
	// verbatim in every announcement
	AdvertisePort int
	// Mode fixes the announcement cadence for the announcer's lifetime
	Mode Mode
}

// ApplyDefaults fills zero values with protocol defaults.
func (s *Session) ApplyDefaults() {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.ServiceName == "" {
		s.ServiceName = DefaultServiceName
	}
	if s.Mode.Kind != ModeOnRequest && s.Mode.Interval <= 0 {
		s.Mode.Interval = DefaultInterval
	}
}

// Validate reports configuration an announcer cannot start with.
func (s Session) Validate() error {
	if s.AdvertisePort <= 0 || s.AdvertisePort > 65535 {
		return fmt.Errorf("advertise port %d out of range", s.AdvertisePort)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("discovery port %d out of range", s.Port)
	}
	if s.Mode.Kind == ModeLimited && s.Mode.Count <= 0 {
		return fmt.Errorf("limited mode needs a positive count, got %d", s.Mode.Count)
	}
	return nil
}
