package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iconidentify/grabba/internal/config"
	"github.com/iconidentify/grabba/internal/domain"
	"github.com/iconidentify/grabba/internal/selector"
)

// inProgressSuffixes mark files the collaborator is still writing.
var inProgressSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// ResolvedOutput is a produced artifact found on disk.
type ResolvedOutput struct {
	Name string
	Path string
	Size int64
}

// FilesystemOutputStore implements OutputStore on a local directory.
type FilesystemOutputStore struct {
	outputPath string
	tempPath   string
	logger     *slog.Logger
}

// NewFilesystemOutputStore creates a store rooted at cfg.OutputPath.
func NewFilesystemOutputStore(cfg config.StorageConfig, logger *slog.Logger) *FilesystemOutputStore {
	return &FilesystemOutputStore{
		outputPath: cfg.OutputPath,
		tempPath:   cfg.TempPath,
		logger:     logger,
	}
}

// EnsureDirs creates the output and temp directories.
func (s *FilesystemOutputStore) EnsureDirs() error {
	for _, dir := range []string{s.outputPath, s.tempPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// OutputDir returns the directory produced files are served from.
func (s *FilesystemOutputStore) OutputDir() string {
	return s.outputPath
}

// TempDir returns the directory for intermediate files and locks.
func (s *FilesystemOutputStore) TempDir() string {
	return s.tempPath
}

// Resolve finds the artifact for a predicted path. The exact path wins;
// otherwise a finished file in the same directory whose stem matches the
// predicted stem is used, so a differing extension or collaborator-side
// sanitization does not lose the output.
func (s *FilesystemOutputStore) Resolve(predicted string) (*ResolvedOutput, error) {
	if info, err := os.Stat(predicted); err == nil && info.Mode().IsRegular() {
		return &ResolvedOutput{
			Name: filepath.Base(predicted),
			Path: predicted,
			Size: info.Size(),
		}, nil
	}

	dir := filepath.Dir(predicted)
	base := filepath.Base(predicted)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &domain.OutputNotFoundError{Predicted: predicted}
	}

	var exact, loose []fs.DirEntry
	for _, e := range entries {
		if !e.Type().IsRegular() || isInProgress(e.Name()) {
			continue
		}
		name := e.Name()
		entryStem := strings.TrimSuffix(name, filepath.Ext(name))
		switch {
		case entryStem == stem:
			exact = append(exact, e)
		case strings.EqualFold(entryStem, stem) || selector.SafeStem(entryStem) == stem:
			loose = append(loose, e)
		}
	}

	matches := exact
	if len(matches) == 0 {
		matches = loose
	}
	if len(matches) == 0 {
		return nil, &domain.OutputNotFoundError{Predicted: predicted}
	}

	chosen, info := newest(matches)
	s.logger.Info("output resolved by stem match",
		"predicted", base,
		"actual", chosen.Name(),
	)
	return &ResolvedOutput{
		Name: chosen.Name(),
		Path: filepath.Join(dir, chosen.Name()),
		Size: info.Size(),
	}, nil
}

// newest returns the most recently modified entry.
func newest(entries []fs.DirEntry) (fs.DirEntry, fs.FileInfo) {
	type candidate struct {
		entry fs.DirEntry
		info  fs.FileInfo
	}
	var cands []candidate
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		cands = append(cands, candidate{e, info})
	}
	if len(cands) == 0 {
		info, _ := entries[0].Info()
		return entries[0], info
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].info.ModTime().After(cands[j].info.ModTime())
	})
	return cands[0].entry, cands[0].info
}

func isInProgress(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range inProgressSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, ".part-frag")
}

// Open returns a produced file by base name. Names that are not a plain
// file name inside the output directory are rejected.
func (s *FilesystemOutputStore) Open(filename string) (*os.File, os.FileInfo, error) {
	if err := validateFilename(filename); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.outputPath, filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, domain.ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("open output: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat output: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, domain.ErrFileNotFound
	}
	return f, info, nil
}

func validateFilename(filename string) error {
	switch {
	case filename == "",
		filename == "." || filename == "..",
		strings.ContainsAny(filename, `/\`),
		strings.ContainsRune(filename, 0),
		strings.HasPrefix(filename, "."),
		filepath.Base(filename) != filename:
		return domain.ErrInvalidFilename
	}
	return nil
}

// Prune deletes produced files in the output directory and leftovers in the
// temp directory last modified before the cutoff. Hidden entries in the
// output directory are left alone.
func (s *FilesystemOutputStore) Prune(before time.Time) (int, error) {
	removed := 0
	var errs []error

	for _, dir := range []string{s.outputPath, s.tempPath} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}

		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			if dir == s.outputPath && strings.HasPrefix(e.Name(), ".") {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(before) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
			s.logger.Debug("pruned expired file", "path", path)
		}
	}

	return removed, errors.Join(errs...)
}
