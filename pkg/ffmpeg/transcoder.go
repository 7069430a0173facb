// Package ffmpeg wraps the ffmpeg and ffprobe binaries.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrNoAudio is returned when the input has no audio stream.
	ErrNoAudio = errors.New("input has no audio track")

	// ErrUnsupportedFormat is returned for an output format without a codec
	// mapping.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// audioCodecs maps output formats to ffmpeg encoders.
var audioCodecs = map[string]string{
	"mp3": "libmp3lame",
	"wav": "pcm_s16le",
}

// Transcoder runs local audio extraction.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewTranscoder locates ffmpeg and ffprobe. ffmpegPath may be a bare name
// resolved through PATH; ffprobe is looked up next to it first.
func NewTranscoder(ffmpegPath string) (*Transcoder, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	probe := filepath.Join(filepath.Dir(resolved), "ffprobe")
	if _, err := exec.LookPath(probe); err != nil {
		probe, err = exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}

	return &Transcoder{
		ffmpegPath:  resolved,
		ffprobePath: probe,
	}, nil
}

// MediaInfo contains the stream facts extraction depends on.
type MediaInfo struct {
	HasAudio bool
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Probe reads stream metadata with ffprobe.
func (t *Transcoder) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat media: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	return parseProbe(output)
}

func parseProbe(output []byte) (*MediaInfo, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	for _, s := range parsed.Streams {
		if s.CodecType == "audio" {
			info.HasAudio = true
		}
	}
	return info, nil
}

// AudioConfig configures audio extraction.
type AudioConfig struct {
	Format     string // mp3 or wav
	Bitrate    string // lossy formats only, e.g. "192k"
	OutputPath string
}

// ExtractAudio transcodes the audio track of input into cfg.OutputPath. A
// partially written output is removed on failure.
func (t *Transcoder) ExtractAudio(ctx context.Context, input string, cfg AudioConfig) error {
	args, err := audioArgs(input, cfg)
	if err != nil {
		return err
	}

	info, err := t.Probe(ctx, input)
	if err != nil {
		return fmt.Errorf("probe input: %w", err)
	}
	if !info.HasAudio {
		return ErrNoAudio
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(cfg.OutputPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("extract audio: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// audioArgs builds the ffmpeg argument list. Sample rate and channel layout
// follow the source.
func audioArgs(input string, cfg AudioConfig) ([]string, error) {
	codec, ok := audioCodecs[cfg.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, cfg.Format)
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-i", input,
		"-vn",
		"-acodec", codec,
	}
	if cfg.Format != "wav" && cfg.Bitrate != "" {
		args = append(args, "-b:a", cfg.Bitrate)
	}
	return append(args, "-y", cfg.OutputPath), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// Version returns the first line of `ffmpeg -version`.
func (t *Transcoder) Version(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, t.ffmpegPath, "-version").Output()
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}
