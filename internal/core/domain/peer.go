package domain

import (
	"net"
	"strconv"
	"time"
)

type PeerID string

// PeerRecord is the tracker's view of a registered peer. LastSeen moves with
// every heartbeat, so it is not part of a peer's identity.
type PeerRecord struct {
	ID       PeerID    `json:"peer_id"`
	Host     string    `json:"host"`
	Port     int       `json:"port"`
	LastSeen time.Time `json:"last_seen"`
}

// Address returns host:port of the peer's transfer server.
func (p PeerRecord) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// RegistryStats summarizes tracker registry state.
type RegistryStats struct {
	Peers          int       `json:"peers"`
	PublishedCount int       `json:"published_videos"`
	ExpiredTotal   int64     `json:"expired_total"`
	LastSweep      time.Time `json:"last_sweep"`
}
