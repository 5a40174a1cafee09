package utils

import (
	"fmt"
	"net"
)

// OutboundHost returns the local address this host would use to reach target
// (host:port). Dialing UDP picks a route without sending anything.
func OutboundHost(target string) (string, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "", fmt.Errorf("find route to %s: %w", target, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return "", fmt.Errorf("no usable local address for %s", target)
	}
	return addr.IP.String(), nil
}
