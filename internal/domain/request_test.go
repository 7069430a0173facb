package domain

import (
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		token   string
		want    Kind
		wantErr bool
	}{
		{"mp3", KindAudioLossy, false},
		{"wav", KindAudioLossless, false},
		{"mp4", KindVideo, false},
		{" MP4 ", KindVideo, false},
		{"flac", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseKind(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Errorf("ParseKind(%q) error = %v, want ErrInvalidRequest", tt.token, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKind(%q) unexpected error: %v", tt.token, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.token, got, tt.want)
			}
		})
	}
}

func TestKind_IsAudio(t *testing.T) {
	if !KindAudioLossy.IsAudio() || !KindAudioLossless.IsAudio() {
		t.Error("audio kinds should report IsAudio")
	}
	if KindVideo.IsAudio() {
		t.Error("video kind should not report IsAudio")
	}
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		token      string
		want       Quality
		wantHeight int
	}{
		{"1080p", Quality1080p, 1080},
		{"720p", Quality720p, 720},
		{"480P", Quality480p, 480},
		{"360p", Quality360p, 360},
		{"best", QualityBest, 0},
		{"", QualityBest, 0},
		{"4k", QualityBest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got := ParseQuality(tt.token)
			if got != tt.want {
				t.Errorf("ParseQuality(%q) = %q, want %q", tt.token, got, tt.want)
			}
			if got.Height() != tt.wantHeight {
				t.Errorf("Height() = %d, want %d", got.Height(), tt.wantHeight)
			}
		})
	}
}

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		format  string
		wantErr bool
	}{
		{"valid video", "https://example.com/video123", "mp4", false},
		{"valid audio", "http://example.com/watch?v=1", "mp3", false},
		{"missing url", "", "mp4", true},
		{"relative url", "video123", "mp4", true},
		{"ftp scheme", "ftp://example.com/a", "mp4", true},
		{"no host", "https:///path", "mp4", true},
		{"bad format", "https://example.com/a", "ogg", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(tt.url, tt.format, "720p")
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRequest) {
					t.Errorf("error = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Quality != Quality720p {
				t.Errorf("Quality = %q, want 720p", req.Quality)
			}
		})
	}
}

func TestRequest_Fingerprint(t *testing.T) {
	a, _ := NewRequest("https://example.com/v", "mp4", "720p")
	b, _ := NewRequest("https://example.com/v", "mp4", "720p")
	c, _ := NewRequest("https://example.com/v", "mp4", "360p")
	d, _ := NewRequest("https://example.com/v", "mp3", "720p")

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical requests should share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different quality should change the fingerprint")
	}
	if a.Fingerprint() == d.Fingerprint() {
		t.Error("different kind should change the fingerprint")
	}
	if len(a.Fingerprint()) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(a.Fingerprint()))
	}
}

func TestCandidate_HasManifestURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example.com/v/720.mp4", false},
		{"https://cdn.example.com/hls/index.m3u8", true},
		{"https://cdn.example.com/dash/stream.MPD?x=1", true},
		{"https://cdn.example.com/api/manifest/hls_variant/1", true},
	}
	for _, tt := range tests {
		c := Candidate{URL: tt.url}
		if got := c.HasManifestURL(); got != tt.want {
			t.Errorf("HasManifestURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
