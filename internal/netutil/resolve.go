// Package netutil resolves the host's outward-facing IPv4 address and the
// broadcast address announcements should target.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoInterface means no usable broadcast-capable interface was found.
// The announcer treats this as fatal: without a routable local address
// there is nothing useful to advertise.
var ErrNoInterface = errors.New("no usable network interface")

// skippedPrefixes are interface names that never carry the address peers
// should connect to (loopback, container bridges, virtual pairs).
var skippedPrefixes = []string{"lo", "docker", "br-", "veth"}

func skippedInterface(name string) bool {
	for _, p := range skippedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// LocalIPNet returns the first non-loopback IPv4 address (with its subnet
// mask) on an up interface. First match wins: multi-homed hosts may get an
// interface other than the one peers reach them on, which is an accepted
// limitation of this heuristic.
func LocalIPNet() (*net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if skippedInterface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || ip.IsLoopback() || ip.IsMulticast() {
				continue
			}
			return &net.IPNet{IP: ip, Mask: ipnet.Mask}, nil
		}
	}
	return nil, ErrNoInterface
}

// LocalIPv4 returns the host's outward-facing IPv4 address.
func LocalIPv4() (net.IP, error) {
	ipnet, err := LocalIPNet()
	if err != nil {
		return nil, err
	}
	return ipnet.IP, nil
}

// BroadcastAddr computes the directed broadcast address for a subnet:
// the host bits of ip set to one under mask.
func BroadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil || len(mask) != net.IPv4len {
		return net.IPv4bcast
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}

// LimitedBroadcast returns the all-ones broadcast address 255.255.255.255,
// the default announcement target.
func LimitedBroadcast() net.IP {
	return net.IPv4bcast
}
