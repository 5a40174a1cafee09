package domain

import "time"

type SessionID string

type ConnectionKind string

const (
	ConnectionInbound  ConnectionKind = "inbound"
	ConnectionOutbound ConnectionKind = "outbound"
)

// ConnectionRecord describes a manual peer-to-peer session. It is independent of
// tracker registration: closing one never touches the other.
type ConnectionRecord struct {
	SessionID     SessionID      `json:"session_id"`
	RemotePeerID  PeerID         `json:"remote_peer_id"`
	Host          string         `json:"host"`
	Port          int            `json:"port"`
	EstablishedAt time.Time      `json:"established_at"`
	Kind          ConnectionKind `json:"kind"`
}
