package domain

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Kind is the requested output kind. The values are the wire tokens
// accepted in the "format" field of a request.
type Kind string

const (
	KindAudioLossy    Kind = "mp3"
	KindAudioLossless Kind = "wav"
	KindVideo         Kind = "mp4"
)

// ParseKind converts a format token into a Kind.
func ParseKind(token string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(token))); k {
	case KindAudioLossy, KindAudioLossless, KindVideo:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, token)
	}
}

// String returns the wire token.
func (k Kind) String() string {
	return string(k)
}

// IsAudio reports whether the kind requires audio extraction.
func (k Kind) IsAudio() bool {
	return k == KindAudioLossy || k == KindAudioLossless
}

// Extension returns the file extension of the final artifact, without dot.
func (k Kind) Extension() string {
	return string(k)
}

// Quality is a target height preference such as "720p", or "best".
type Quality string

const (
	QualityBest  Quality = "best"
	Quality1080p Quality = "1080p"
	Quality720p  Quality = "720p"
	Quality480p  Quality = "480p"
	Quality360p  Quality = "360p"
)

// Qualities lists the accepted targets from highest to lowest.
var Qualities = []Quality{Quality1080p, Quality720p, Quality480p, Quality360p, QualityBest}

// ParseQuality maps a quality token to a Quality. Empty and unrecognised
// tokens map to QualityBest.
func ParseQuality(token string) Quality {
	q := Quality(strings.ToLower(strings.TrimSpace(token)))
	for _, known := range Qualities {
		if q == known {
			return q
		}
	}
	return QualityBest
}

// String returns the wire token.
func (q Quality) String() string {
	return string(q)
}

// Height returns the target height in pixels, or 0 for QualityBest.
func (q Quality) Height() int {
	if q == QualityBest {
		return 0
	}
	h, err := strconv.Atoi(strings.TrimSuffix(string(q), "p"))
	if err != nil {
		return 0
	}
	return h
}

// Request is an accepted download/resolve request. It is immutable once
// built by NewRequest.
type Request struct {
	URL     string
	Kind    Kind
	Quality Quality
}

// NewRequest validates raw request fields.
func NewRequest(rawURL, format, quality string) (Request, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Request{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("%w: malformed url", ErrInvalidRequest)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Request{}, fmt.Errorf("%w: url scheme must be http or https", ErrInvalidRequest)
	}
	if u.Host == "" {
		return Request{}, fmt.Errorf("%w: url has no host", ErrInvalidRequest)
	}

	kind, err := ParseKind(format)
	if err != nil {
		return Request{}, err
	}

	return Request{
		URL:     rawURL,
		Kind:    kind,
		Quality: ParseQuality(quality),
	}, nil
}

// Fingerprint identifies the target of a request. Two requests with the
// same fingerprint would write the same artifact.
func (r Request) Fingerprint() string {
	sum := blake2b.Sum256([]byte(r.URL + "\x00" + string(r.Kind) + "\x00" + string(r.Quality)))
	return hex.EncodeToString(sum[:16])
}
