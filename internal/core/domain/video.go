package domain

import "time"

type VideoID string

// VideoRecord is video metadata. The owner keeps the bytes; everyone else keeps copies of this.
type VideoRecord struct {
	ID        VideoID `json:"video_id"`
	Name      string  `json:"name"`
	SizeBytes int64   `json:"size"`
	Owner     PeerID  `json:"owner_peer_id"`
	Published bool    `json:"published"`
}

// CatalogEntry is one published video tagged with the peer that serves it.
type CatalogEntry struct {
	PeerID PeerID      `json:"peer_id"`
	Video  VideoRecord `json:"video"`
}

// LocalVideo is a video held by this peer, with the file that backs it.
type LocalVideo struct {
	VideoRecord
	Path string `json:"path"`
}

// NetworkView is what a refresh returns. A newer view replaces an older one entirely.
type NetworkView struct {
	Peers       []PeerRecord   `json:"peers"`
	Catalog     []CatalogEntry `json:"catalog"`
	RefreshedAt time.Time      `json:"refreshed_at"`
}

// SameContent reports whether two views list the same peers at the same
// addresses and the same catalog, ignoring LastSeen and RefreshedAt.
func (v NetworkView) SameContent(other NetworkView) bool {
	if len(v.Peers) != len(other.Peers) || len(v.Catalog) != len(other.Catalog) {
		return false
	}
	for i, p := range v.Peers {
		q := other.Peers[i]
		if p.ID != q.ID || p.Host != q.Host || p.Port != q.Port {
			return false
		}
	}
	for i, e := range v.Catalog {
		if e != other.Catalog[i] {
			return false
		}
	}
	return true
}

// FindPeer returns the peer with the given id from the view.
func (v NetworkView) FindPeer(id PeerID) (PeerRecord, bool) {
	for _, p := range v.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return PeerRecord{}, false
}
