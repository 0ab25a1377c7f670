package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/pkg/models"
)

// LocalFileArchiver writes purged session summaries as gzipped JSONL
// files to a local directory, one file per retention cycle:
//
//	{basePath}/sessions/2026-08-31T15-04-05Z.jsonl.gz
type LocalFileArchiver struct {
	basePath string
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is
// empty, it defaults to "~/.peupajoh/archive".
func NewLocalFileArchiver(basePath string) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/peupajoh/archive"
		} else {
			basePath = filepath.Join(home, ".peupajoh", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) ArchiveSessions(_ context.Context, sessions []models.SessionSummary) (string, error) {
	dir := filepath.Join(a.basePath, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl.gz"
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()

	enc := json.NewEncoder(gw)
	for _, s := range sessions {
		if err := enc.Encode(s); err != nil {
			return "", fmt.Errorf("encode session %s: %w", s.SessionID, err)
		}
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("flush archive file: %w", err)
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(sessions)).
		Msg("Archived sessions to local file")

	return fpath, nil
}

// HealthCheck verifies the base path is writable.
func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
