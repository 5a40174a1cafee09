package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"vidswarm/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck pings the event bus backend. Registry events stay local while
// it is down, so the failure only degrades the process.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddOptionalCheck("redis", timeout, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// AddRegistryCheck verifies the registry answers a snapshot.
func (h *HealthChecker) AddRegistryCheck(store ports.RegistryStore, timeout time.Duration) {
	h.AddCheck("registry", timeout, func(ctx context.Context) error {
		_, err := store.Stats(ctx)
		return err
	})
}

// AddTrackerCheck reports whether a peer node currently reaches its tracker.
// A peer keeps serving its last view without one.
func (h *HealthChecker) AddTrackerCheck(available func() bool, timeout time.Duration) {
	h.AddOptionalCheck("tracker", timeout, func(ctx context.Context) error {
		if !available() {
			return errors.New("tracker unreachable")
		}
		return nil
	})
}

// AddListenerCheck dials a wire protocol listener. host and port are read on
// every run since a peer binds its transfer port on Start.
func (h *HealthChecker) AddListenerCheck(name, host string, port func() int, timeout time.Duration) {
	h.AddCheck(name, timeout, func(ctx context.Context) error {
		p := port()
		if p == 0 {
			return fmt.Errorf("%s is not listening", name)
		}
		target := host
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			target = "127.0.0.1"
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(p)))
		if err != nil {
			return err
		}
		return conn.Close()
	})
}
