package domain

import "time"

// EventType represents the type of event
type EventType string

const (
	// Tracker registry
	EventPeerRegistered   EventType = "peer.registered"
	EventPeerUnregistered EventType = "peer.unregistered"
	EventPeerExpired      EventType = "peer.expired"
	EventVideoPublished   EventType = "video.published"
	EventVideoUnpublished EventType = "video.unpublished"

	// Peer node
	EventNodeStarted       EventType = "node.started"
	EventNodeStopped       EventType = "node.stopped"
	EventNetworkRefreshed  EventType = "network.refreshed"
	EventDownloadStarted   EventType = "download.started"
	EventDownloadCompleted EventType = "download.completed"
	EventDownloadFailed    EventType = "download.failed"
	EventSessionOpened     EventType = "session.opened"
	EventSessionClosed     EventType = "session.closed"
	EventTrackerLost       EventType = "tracker.lost"
	EventTrackerRecovered  EventType = "tracker.recovered"
)

// Event is a state change pushed to observers (UI subscribers, the Redis bus).
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	PeerID    PeerID      `json:"peer_id,omitempty"`
	VideoID   VideoID     `json:"video_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}
