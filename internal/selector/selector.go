// Package selector decides whether a request can be answered with a direct
// origin link or needs a server-side job.
package selector

import (
	"sort"

	"github.com/iconidentify/grabba/internal/domain"
)

// Reasons reported with NeedsProcessing verdicts.
const (
	ReasonAudio         = "audio extraction requires transcoding"
	ReasonNoProgressive = "no progressive rendition available"
	ReasonDisabled      = "direct delivery disabled"
)

// videoContainers are extensions a browser can be handed directly.
var videoContainers = map[string]bool{
	"mp4":  true,
	"webm": true,
	"mov":  true,
	"m4v":  true,
	"mkv":  true,
}

// Select applies the direct-link policy to a candidate set.
func Select(candidates []domain.Candidate, kind domain.Kind, quality domain.Quality, title string) domain.Verdict {
	if kind.IsAudio() {
		return &domain.NeedsProcessing{Reason: ReasonAudio}
	}

	pool := progressive(candidates)
	if len(pool) == 0 {
		return &domain.NeedsProcessing{Reason: ReasonNoProgressive}
	}

	target := kind.Extension()
	chosen, ok := pick(pool, target, quality.Height())
	if !ok {
		return &domain.NeedsProcessing{Reason: domain.ErrNoUsableRendition.Error()}
	}

	ext := chosen.Extension
	if ext == "" {
		ext = target
	}
	return &domain.Direct{
		Candidate: chosen,
		Filename:  SynthesizeFilename(title, ext),
		Title:     title,
	}
}

// progressive returns the candidates that are a single complete file the
// browser can fetch. Segmented and unknown protocols never qualify.
func progressive(candidates []domain.Candidate) []domain.Candidate {
	var out []domain.Candidate
	for _, c := range candidates {
		if c.Protocol != domain.ProtocolProgressive || c.URL == "" {
			continue
		}
		if c.HasManifestURL() || !c.Muxed() {
			continue
		}
		out = append(out, c)
	}
	return out
}

func pick(pool []domain.Candidate, target string, height int) (domain.Candidate, bool) {
	if height > 0 {
		if c, ok := exactHeight(pool, target, height); ok {
			return c, true
		}
	}
	if c, ok := highestWithExtension(pool, target, height); ok {
		return c, true
	}
	return anyRanked(pool, target)
}

// exactHeight returns a candidate at exactly the requested height in a video
// container, ranking the target extension first.
func exactHeight(pool []domain.Candidate, target string, height int) (domain.Candidate, bool) {
	var matches []domain.Candidate
	for _, c := range pool {
		if c.Height == height && videoContainers[c.Extension] {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return domain.Candidate{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if am, bm := a.Extension == target, b.Extension == target; am != bm {
			return am
		}
		return a.Size > b.Size
	})
	return matches[0], true
}

// highestWithExtension returns the tallest candidate in the target
// extension. With a cap, candidates not exceeding it win over taller ones.
func highestWithExtension(pool []domain.Candidate, target string, capHeight int) (domain.Candidate, bool) {
	var matches []domain.Candidate
	for _, c := range pool {
		if c.Extension == target {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return domain.Candidate{}, false
	}

	within := func(c domain.Candidate) bool {
		return capHeight > 0 && c.Height > 0 && c.Height <= capHeight
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if aw, bw := within(a), within(b); aw != bw {
			return aw
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Size > b.Size
	})
	return matches[0], true
}

func anyRanked(pool []domain.Candidate, target string) (domain.Candidate, bool) {
	if len(pool) == 0 {
		return domain.Candidate{}, false
	}
	ranked := make([]domain.Candidate, len(pool))
	copy(ranked, pool)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if am, bm := a.Extension == target, b.Extension == target; am != bm {
			return am
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Size > b.Size
	})
	return ranked[0], true
}
