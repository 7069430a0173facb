package domain

import "strings"

// Protocol classifies how a rendition is delivered by the origin.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	// ProtocolProgressive is a single byte-fetchable file.
	ProtocolProgressive
	// ProtocolSegmented is a manifest-based stream (HLS, DASH, ...).
	ProtocolSegmented
)

// String returns the protocol class name.
func (p Protocol) String() string {
	switch p {
	case ProtocolProgressive:
		return "progressive"
	case ProtocolSegmented:
		return "segmented"
	default:
		return "unknown"
	}
}

// CodecNone is the codec marker for an absent track.
const CodecNone = "none"

// Candidate is one rendition offered by the origin for a single request.
// Zero Height and Size mean unknown.
type Candidate struct {
	FormatID   string
	Extension  string
	Height     int
	Protocol   Protocol
	URL        string
	Size       int64
	Note       string
	VideoCodec string
	AudioCodec string
}

// Muxed reports whether the rendition is not known to lack a video or an
// audio track.
func (c Candidate) Muxed() bool {
	return c.VideoCodec != CodecNone && c.AudioCodec != CodecNone
}

// manifestIndicators mark URLs that point at a streaming manifest rather
// than a media file.
var manifestIndicators = []string{".m3u8", ".mpd", "/manifest", "manifest.", ".ism"}

// HasManifestURL reports whether the URL references a segmented manifest.
func (c Candidate) HasManifestURL() bool {
	u := strings.ToLower(c.URL)
	for _, ind := range manifestIndicators {
		if strings.Contains(u, ind) {
			return true
		}
	}
	return false
}

// Info is the normalized metadata for one origin item.
type Info struct {
	ID         string
	Title      string
	Candidates []Candidate
	// FromCollection is set when the origin returned a collection and only
	// its first member was kept.
	FromCollection bool
}

// Verdict is the outcome of rendition selection. It is either *Direct or
// *NeedsProcessing.
type Verdict interface {
	verdict()
}

// Direct means the request can be satisfied with a link to the origin.
type Direct struct {
	Candidate Candidate
	Filename  string
	Title     string
}

// NeedsProcessing means the request must go through a server-side job.
type NeedsProcessing struct {
	Reason string
}

func (*Direct) verdict()          {}
func (*NeedsProcessing) verdict() {}
