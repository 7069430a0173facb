package downloader

import (
	"fmt"

	"github.com/iconidentify/grabba/internal/domain"
)

// AudioSelector fetches the best audio-only stream, falling back to the best
// muxed stream for origins without separate audio.
const AudioSelector = "bestaudio/best"

// FormatSelector returns the declarative selector handed to the collaborator.
// Video prefers an mp4 video track with an m4a audio track at or below the
// target height, then a muxed mp4, then anything.
func FormatSelector(kind domain.Kind, quality domain.Quality) string {
	if kind.IsAudio() {
		return AudioSelector
	}

	h := quality.Height()
	if h == 0 {
		return "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	}
	return fmt.Sprintf("bestvideo[height<=%d][ext=mp4]+bestaudio[ext=m4a]/best[height<=%d][ext=mp4]/best", h, h)
}
