package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/iconidentify/grabba/internal/config"
	"github.com/iconidentify/grabba/internal/domain"
)

// progressInterval is how often the collaborator reports progress.
const progressInterval = 500 * time.Millisecond

// permanentMarkers identify collaborator failures that retrying cannot fix.
var permanentMarkers = []string{
	"unsupported url",
	"sign in",
	"private video",
	"video unavailable",
	"not available",
	"age-restricted",
	"members-only",
	"http error 404",
	"http error 403",
}

// YTDLP runs yt-dlp through go-ytdlp.
type YTDLP struct {
	cfg         config.ExtractorConfig
	cookiesPath string
	retry       RetryConfig
	logger      *slog.Logger
}

// NewYTDLP creates the yt-dlp backed extractor. cookiesPath is passed to the
// collaborator only while the file exists.
func NewYTDLP(cfg config.ExtractorConfig, cookiesPath string, logger *slog.Logger) *YTDLP {
	return &YTDLP{
		cfg:         cfg,
		cookiesPath: cookiesPath,
		retry: RetryConfig{
			MaxAttempts:   cfg.ProbeAttempts,
			InitialDelay:  cfg.RetryDelay,
			MaxDelay:      cfg.MaxRetryDelay,
			BackoffFactor: 2.0,
		},
		logger: logger,
	}
}

// Install makes sure a yt-dlp binary is available, downloading it into the
// user cache when missing.
func Install(ctx context.Context) error {
	if _, err := ytdlp.Install(ctx, nil); err != nil {
		return fmt.Errorf("install yt-dlp: %w", err)
	}
	return nil
}

// cookies returns the cookie jar path if it exists on disk.
func (y *YTDLP) cookies() string {
	if y.cookiesPath == "" {
		return ""
	}
	if _, err := os.Stat(y.cookiesPath); err != nil {
		return ""
	}
	return y.cookiesPath
}

// Probe returns yt-dlp's single-JSON metadata for url. Collections are
// limited to their first item.
func (y *YTDLP) Probe(ctx context.Context, url string) ([]byte, error) {
	return RetryWithCheck(ctx, y.retry, func(attempt int) ([]byte, error) {
		probeCtx := ctx
		if y.cfg.ProbeTimeout > 0 {
			var cancel context.CancelFunc
			probeCtx, cancel = context.WithTimeout(ctx, y.cfg.ProbeTimeout)
			defer cancel()
		}

		cmd := ytdlp.New().
			SkipDownload().
			DumpSingleJSON().
			PlaylistItems("1")
		if c := y.cookies(); c != "" {
			cmd.Cookies(c)
		}

		res, err := cmd.Run(probeCtx, url)
		if err != nil {
			y.logger.Warn("metadata probe failed",
				"url", url,
				"attempt", attempt,
				"error", err,
			)
			return nil, describe(err, res)
		}
		if res == nil || strings.TrimSpace(res.Stdout) == "" {
			return nil, errors.New("collaborator returned no metadata")
		}
		return []byte(res.Stdout), nil
	}, func(err error) bool {
		return ctx.Err() == nil && isTransient(err)
	})
}

// Fetch downloads spec.URL to spec.OutputTemplate. Video is merged into an
// mp4 container; audio is fetched as-is for local transcoding.
func (y *YTDLP) Fetch(ctx context.Context, spec FetchSpec, updates chan<- domain.RawProgress) error {
	cmd := fetchCommand(spec, y.cookies())
	cmd.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
		raw := toRawProgress(&update, time.Now())
		select {
		case updates <- raw:
		case <-ctx.Done():
		}
	})

	res, err := cmd.Run(ctx, spec.URL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return describe(err, res)
	}
	return nil
}

// fetchCommand builds the download invocation. Video always ends up in an
// mp4 container: merged streams via the merge format, single-file picks via
// a remux.
func fetchCommand(spec FetchSpec, cookies string) *ytdlp.Command {
	cmd := ytdlp.New().
		Format(FormatSelector(spec.Kind, spec.Quality)).
		Output(spec.OutputTemplate).
		PlaylistItems("1").
		ForceOverwrites()
	if !spec.Kind.IsAudio() {
		cmd.MergeOutputFormat("mp4").RemuxVideo("mp4")
	}
	if cookies != "" {
		cmd.Cookies(cookies)
	}
	return cmd
}

// toRawProgress converts a collaborator progress update. Rate and ETA are
// derived from the start time and stay unknown (-1) until bytes arrive.
func toRawProgress(u *ytdlp.ProgressUpdate, now time.Time) domain.RawProgress {
	raw := domain.RawProgress{
		Status:          string(u.Status),
		DownloadedBytes: int64(u.DownloadedBytes),
		TotalBytes:      int64(u.TotalBytes),
		BytesPerSecond:  -1,
		ETA:             -1,
		Filename:        u.Filename,
	}

	if u.Started.IsZero() || raw.DownloadedBytes <= 0 {
		return raw
	}
	elapsed := now.Sub(u.Started).Seconds()
	if elapsed <= 0 {
		return raw
	}
	raw.BytesPerSecond = float64(raw.DownloadedBytes) / elapsed

	if raw.TotalBytes > 0 && raw.TotalBytes >= raw.DownloadedBytes {
		remaining := float64(raw.TotalBytes - raw.DownloadedBytes)
		raw.ETA = time.Duration(remaining / raw.BytesPerSecond * float64(time.Second))
	}
	return raw
}

// describe appends the collaborator's last stderr line, which carries the
// human-readable cause.
func describe(err error, res *ytdlp.Result) error {
	if res == nil {
		return err
	}
	lines := strings.Split(strings.TrimSpace(res.Stderr), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, strings.TrimPrefix(last, "ERROR: "))
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
