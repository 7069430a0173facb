// Package catalog turns the media-info collaborator's raw metadata into the
// normalized rendition list used by selection.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iconidentify/grabba/internal/domain"
)

// ErrEmptyCollection is returned when the origin returned a collection
// without any usable member.
var ErrEmptyCollection = errors.New("collection has no entries")

// rawInfo mirrors the subset of yt-dlp's --dump-single-json output we read.
type rawInfo struct {
	Type     string       `json:"_type"`
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Entries  []*rawInfo   `json:"entries"`
	Formats  []*rawFormat `json:"formats"`
	Duration float64      `json:"duration"`

	// Single-format items carry their rendition at the top level.
	rawFormat
}

type rawFormat struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Height         *float64 `json:"height"`
	Protocol       string   `json:"protocol"`
	URL            string   `json:"url"`
	Filesize       *float64 `json:"filesize"`
	FilesizeApprox *float64 `json:"filesize_approx"`
	FormatNote     string   `json:"format_note"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
}

// Normalize decodes raw metadata into an Info. A collection keeps only its
// first non-empty member.
func Normalize(raw []byte) (*domain.Info, error) {
	var info rawInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	fromCollection := false
	if info.Type == "playlist" || info.Type == "multi_video" || len(info.Entries) > 0 {
		first := firstEntry(info.Entries)
		if first == nil {
			return nil, ErrEmptyCollection
		}
		info = *first
		fromCollection = true
	}

	out := &domain.Info{
		ID:             info.ID,
		Title:          strings.TrimSpace(info.Title),
		FromCollection: fromCollection,
	}

	formats := info.Formats
	if len(formats) == 0 && info.URL != "" {
		formats = []*rawFormat{&info.rawFormat}
	}

	for _, f := range formats {
		if f == nil || f.URL == "" || isStoryboard(f) {
			continue
		}
		out.Candidates = append(out.Candidates, toCandidate(f))
	}

	return out, nil
}

func firstEntry(entries []*rawInfo) *rawInfo {
	for _, e := range entries {
		if e != nil {
			return e
		}
	}
	return nil
}

func isStoryboard(f *rawFormat) bool {
	return f.Ext == "mhtml" || strings.Contains(strings.ToLower(f.FormatNote), "storyboard")
}

func toCandidate(f *rawFormat) domain.Candidate {
	c := domain.Candidate{
		FormatID:   f.FormatID,
		Extension:  strings.ToLower(f.Ext),
		URL:        f.URL,
		Note:       f.FormatNote,
		VideoCodec: f.VCodec,
		AudioCodec: f.ACodec,
	}
	if f.Height != nil && *f.Height > 0 {
		c.Height = int(*f.Height)
	}
	switch {
	case f.Filesize != nil && *f.Filesize > 0:
		c.Size = int64(*f.Filesize)
	case f.FilesizeApprox != nil && *f.FilesizeApprox > 0:
		c.Size = int64(*f.FilesizeApprox)
	}
	c.Protocol = classifyProtocol(f.Protocol, c)
	return c
}

// classifyProtocol maps a yt-dlp protocol name to a delivery class. A plain
// http rendition whose URL points at a manifest is still segmented.
func classifyProtocol(protocol string, c domain.Candidate) domain.Protocol {
	p := strings.ToLower(protocol)
	if p == "" {
		if scheme, _, ok := strings.Cut(c.URL, "://"); ok {
			p = strings.ToLower(scheme)
		}
	}
	switch {
	case strings.Contains(p, "+"):
		return domain.ProtocolUnknown
	case p == "http" || p == "https" || p == "ftp" || p == "ftps":
		if c.HasManifestURL() {
			return domain.ProtocolSegmented
		}
		return domain.ProtocolProgressive
	case strings.HasPrefix(p, "m3u8"),
		p == "http_dash_segments",
		p == "dash",
		p == "f4m",
		p == "ism":
		return domain.ProtocolSegmented
	default:
		return domain.ProtocolUnknown
	}
}
