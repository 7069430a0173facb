package downloader

import (
	"context"

	"github.com/iconidentify/grabba/internal/domain"
)

// Extractor is the media extraction and transcoding collaborator.
type Extractor interface {
	// Probe returns raw item metadata without downloading media.
	Probe(ctx context.Context, url string) ([]byte, error)

	// Fetch downloads the media described by spec. Progress reports are sent
	// on updates while the fetch runs; Fetch never closes updates.
	Fetch(ctx context.Context, spec FetchSpec, updates chan<- domain.RawProgress) error
}

// LinkProber checks whether a URL is fetchable without downloading it.
type LinkProber interface {
	Probe(ctx context.Context, url string) (*ProbeResult, error)
}

// FetchSpec describes one fetch.
type FetchSpec struct {
	URL     string
	Kind    domain.Kind
	Quality domain.Quality
	// OutputTemplate is a path with a "%(ext)s" placeholder for the
	// extension the collaborator picks.
	OutputTemplate string
}

// ProbeResult contains information about a media URL.
type ProbeResult struct {
	ContentType   string
	ContentLength int64
	Accessible    bool
	Error         string
}
