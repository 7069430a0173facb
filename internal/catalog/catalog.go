package catalog

import (
	"context"
	"log/slog"

	"github.com/iconidentify/grabba/internal/domain"
)

// Extractor returns raw metadata for a URL without downloading media.
type Extractor interface {
	Probe(ctx context.Context, url string) ([]byte, error)
}

// Catalog looks up and normalizes origin metadata.
type Catalog struct {
	extractor Extractor
	logger    *slog.Logger
}

// New creates a Catalog backed by the given extractor.
func New(extractor Extractor, logger *slog.Logger) *Catalog {
	return &Catalog{
		extractor: extractor,
		logger:    logger,
	}
}

// Lookup fetches metadata for url and normalizes it. Every failure, including
// undecodable metadata, is reported as an *domain.ExtractionError.
func (c *Catalog) Lookup(ctx context.Context, url string) (*domain.Info, error) {
	raw, err := c.extractor.Probe(ctx, url)
	if err != nil {
		return nil, &domain.ExtractionError{URL: url, Err: err}
	}

	info, err := Normalize(raw)
	if err != nil {
		return nil, &domain.ExtractionError{URL: url, Err: err}
	}

	if info.FromCollection {
		c.logger.Info("collection url, using first entry only",
			"url", url,
			"entry_id", info.ID,
		)
	}
	c.logger.Debug("metadata normalized",
		"url", url,
		"title", info.Title,
		"candidates", len(info.Candidates),
	)

	return info, nil
}
