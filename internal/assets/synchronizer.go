// Package assets synchronizes remote part images with local files,
// keeping versioned backups whenever local content is replaced.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tkuosman/partsmirror/internal/scrape"
)

// Config sets the local storage layout.
type Config struct {
	// BaseDir is the root directory for downloaded images.
	BaseDir string
	// BackupDir receives timestamped copies of replaced files.
	BackupDir string
	// RootMarker is the URL path segment after which the deterministic
	// local path begins. Defaults to "images/".
	RootMarker string
}

const defaultRootMarker = "images/"

// Synchronizer downloads part images and maintains the per-part asset
// rows. Downloads across a part's images run one at a time; the remote
// metadata probe and the local size lookup for a single image run
// concurrently.
type Synchronizer struct {
	cfg     Config
	fetcher scrape.Fetcher
	clock   scrape.Clock
	logger  *zap.Logger
}

// New builds a Synchronizer.
func New(cfg Config, fetcher scrape.Fetcher, clock scrape.Clock, logger *zap.Logger) *Synchronizer {
	if cfg.RootMarker == "" {
		cfg.RootMarker = defaultRootMarker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{cfg: cfg, fetcher: fetcher, clock: clock, logger: logger}
}

// LocalPath maps a remote image URL to its deterministic relative local
// path: the URL path following the asset-root marker, or the whole URL
// path when the marker is absent. Path-traversal segments are rejected.
func (s *Synchronizer) LocalPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	p := u.Path
	if idx := strings.Index(p, s.cfg.RootMarker); idx >= 0 {
		p = p[idx+len(s.cfg.RootMarker):]
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", fmt.Errorf("image url %q has no usable path", rawURL)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("image url %q contains a traversal segment", rawURL)
		}
	}
	return path.Clean(p), nil
}

// SyncPart synchronizes every distinct remote image of a part, in
// discovery order, and upserts one asset row per URL on ops. It returns
// one outcome per URL; the error is non-nil only when the run was
// aborted mid-part.
func (s *Synchronizer) SyncPart(ctx context.Context, ops scrape.Ops, partID string, urls []string) ([]scrape.AssetOutcome, error) {
	outcomes := make([]scrape.AssetOutcome, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	position := 0
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}

		outcome := s.syncOne(ctx, u)
		outcomes = append(outcomes, outcome)

		row := scrape.ImageAsset{PartID: partID, URL: u, Position: position}
		if outcome.Err == nil {
			row.LocalPath = outcome.LocalPath
		}
		if err := ops.UpsertImageAsset(ctx, row); err != nil {
			s.logger.Warn("image asset upsert failed",
				zap.String("part_id", partID), zap.String("url", u), zap.Error(err))
		}
		position++

		if outcome.Err != nil && errors.Is(outcome.Err, scrape.ErrAborted) {
			return outcomes, outcome.Err
		}
	}
	return outcomes, nil
}

func (s *Synchronizer) syncOne(ctx context.Context, rawURL string) scrape.AssetOutcome {
	outcome := scrape.AssetOutcome{URL: rawURL}

	rel, err := s.LocalPath(rawURL)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	fullPath := filepath.Join(s.cfg.BaseDir, filepath.FromSlash(rel))

	// Probe the remote size while the local size lookup runs.
	type probe struct {
		size int64
		err  error
	}
	probeCh := make(chan probe, 1)
	go func() {
		size, probeErr := s.fetcher.ProbeSize(ctx, rawURL)
		probeCh <- probe{size: size, err: probeErr}
	}()
	localSize, localExists := statSize(fullPath)
	remote := <-probeCh

	if remote.err != nil && errors.Is(remote.err, scrape.ErrAborted) {
		outcome.Err = remote.err
		return outcome
	}
	if localExists && remote.err == nil && remote.size >= 0 && remote.size == localSize {
		outcome.Status = scrape.AssetUnchanged
		outcome.Bytes = localSize
		outcome.LocalPath = rel
		return outcome
	}

	body, err := s.fetcher.FetchBytes(ctx, rawURL)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Bytes = int64(len(body))

	// A probe that lied or was unavailable must not count as a change.
	if localExists && int64(len(body)) == localSize {
		outcome.Status = scrape.AssetUnchanged
		outcome.LocalPath = rel
		return outcome
	}

	if localExists {
		backupPath, backupErr := s.backup(fullPath, rel)
		if backupErr != nil {
			outcome.Err = fmt.Errorf("backup %s: %w", fullPath, backupErr)
			return outcome
		}
		outcome.BackupPath = backupPath
		outcome.Status = scrape.AssetUpdated
	} else {
		outcome.Status = scrape.AssetNew
	}

	if err := writeFile(fullPath, body); err != nil {
		outcome.Err = err
		outcome.Status = ""
		return outcome
	}
	outcome.LocalPath = rel
	return outcome
}

// backup copies the current file into the backup directory under a
// timestamped name before it gets overwritten.
func (s *Synchronizer) backup(fullPath, rel string) (string, error) {
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}
	backupPath := fmt.Sprintf("%s.%d.bak",
		filepath.Join(s.cfg.BackupDir, filepath.FromSlash(rel)), s.clock.Now().Unix())
	if err := writeFile(backupPath, data); err != nil {
		return "", err
	}
	return backupPath, nil
}

func statSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}
