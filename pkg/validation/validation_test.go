package validation

import (
	"strings"
	"testing"
)

func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		name    string
		peerID  string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"with dash and dot", "node-1.lan", false},
		{"empty", "", true},
		{"space", "alice bob", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePeerID(tt.peerID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePeerID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateVideoID(t *testing.T) {
	tests := []struct {
		name    string
		videoID string
		wantErr bool
	}{
		{"short", "v1", false},
		{"hex digest", "9e107d9d372bb682", false},
		{"empty", "", true},
		{"slash", "../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVideoID(tt.videoID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVideoID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateVideoName(t *testing.T) {
	tests := []struct {
		name      string
		videoName string
		wantErr   bool
	}{
		{"file name", "clip.mp4", false},
		{"unicode", "vidéo d'été.mkv", false},
		{"blank", "   ", true},
		{"too long", strings.Repeat("x", MaxFieldLength+1), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVideoName(tt.videoName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVideoName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateHostAndPort(t *testing.T) {
	if err := ValidateHost("127.0.0.1"); err != nil {
		t.Errorf("ValidateHost(ip) error = %v", err)
	}
	if err := ValidateHost("tracker.local"); err != nil {
		t.Errorf("ValidateHost(name) error = %v", err)
	}
	if err := ValidateHost("host:5000"); err == nil {
		t.Error("ValidateHost should reject host:port")
	}
	if err := ValidateHost(""); err == nil {
		t.Error("ValidateHost should reject empty host")
	}

	for _, port := range []int{0, -1, 65536} {
		if err := ValidatePort(port); err == nil {
			t.Errorf("ValidatePort(%d) should fail", port)
		}
	}
	if err := ValidatePort(5000); err != nil {
		t.Errorf("ValidatePort(5000) error = %v", err)
	}
	if err := ValidateSize(-1); err == nil {
		t.Error("ValidateSize(-1) should fail")
	}
}
