package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// PeerIDRegex validates peer ID format
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// VideoIDRegex validates video ID format
	VideoIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// MaxFieldLength bounds identifiers so they fit a uint16-prefixed wire string with room to spare.
const MaxFieldLength = 255

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 100 {
		return fmt.Errorf("peer ID is too long (max 100 characters)")
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("invalid peer ID format")
	}
	return nil
}

// ValidateVideoID validates video ID
func ValidateVideoID(videoID string) error {
	if videoID == "" {
		return fmt.Errorf("video ID is required")
	}
	if len(videoID) > 100 {
		return fmt.Errorf("video ID is too long (max 100 characters)")
	}
	if !VideoIDRegex.MatchString(videoID) {
		return fmt.Errorf("invalid video ID format")
	}
	return nil
}

// ValidateVideoName validates the display name of a video
func ValidateVideoName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("video name is required")
	}
	if len(name) > MaxFieldLength {
		return fmt.Errorf("video name is too long (max %d bytes)", MaxFieldLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("video name contains invalid characters")
	}
	return nil
}

// ValidateHost validates a hostname or IP literal
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host is required")
	}
	if len(host) > MaxFieldLength {
		return fmt.Errorf("host is too long (max %d characters)", MaxFieldLength)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if strings.ContainsAny(host, " /:@") {
		return fmt.Errorf("invalid host %q", host)
	}
	return nil
}

// ValidatePort validates a TCP port a peer can be reached on
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be in [1, 65535], got %d", port)
	}
	return nil
}

// ValidateSize validates a declared video size
func ValidateSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("size must be >= 0, got %d", size)
	}
	return nil
}
