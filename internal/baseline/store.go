// Package baseline persists snapshots atomically through the codec registry.
package baseline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"cellwatch/internal/codec"
	"cellwatch/internal/failure"
	"cellwatch/internal/logging"
	"cellwatch/internal/snapshot"
)

const lockRetryDelay = 50 * time.Millisecond

// Store reads and writes baseline files.
type Store struct {
	codecs *codec.Registry
	logger *slog.Logger

	// beforeCommit runs after the temp file is durable and before it is
	// renamed over the target.
	beforeCommit func(tmpPath string) error
}

// NewStore returns a store that encodes through codecs.
func NewStore(codecs *codec.Registry, logger *slog.Logger) *Store {
	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	return &Store{codecs: codecs, logger: logging.NewComponentLogger(logger, "baseline")}
}

// Save writes b to path with the requested codec. The target is replaced
// atomically; writers to the same path are serialized through an advisory
// lock on "<path>.lock".
func (s *Store) Save(ctx context.Context, path string, b *snapshot.Baseline, format codec.Format) error {
	if err := s.codecs.Available(format); err != nil {
		return err
	}
	record := b.Clone()
	if record == nil {
		record = snapshot.Empty()
	}
	record.Prune()
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.SchemaVersion == 0 {
		record.SchemaVersion = snapshot.SchemaVersion
	}

	blob, err := s.codecs.EncodeJSON(record, format)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return failure.Wrap(failure.ErrIO, "baseline", "save", "create directory", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return failure.Wrap(failure.ErrIO, "baseline", "save", "acquire lock", err)
	}
	if !locked {
		return failure.Wrap(failure.ErrIO, "baseline", "save", "lock not acquired", nil)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release baseline lock", logging.String("path", path), logging.Error(err))
		}
	}()

	if err := s.writeAtomic(path, blob, 0o644); err != nil {
		return failure.Wrap(failure.ErrIO, "baseline", "save", path, err)
	}
	s.logger.Debug("baseline saved",
		logging.String(logging.FieldFilePath, path),
		logging.String("format", string(format)),
		logging.Int("bytes", len(blob)),
		logging.Int("sheets", len(record.Cells)),
	)
	return nil
}

func (s *Store) writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		if err := s.beforeCommit(tmpName); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Load reads the baseline at path. A missing file yields an empty snapshot.
// In safe mode unreadable or undecodable content also yields an empty
// snapshot instead of an error.
func (s *Store) Load(path string, safe bool) (*snapshot.Baseline, codec.Format, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snapshot.Empty(), codec.FormatNone, nil
	}
	if err != nil {
		wrapped := failure.Wrap(failure.ErrIO, "baseline", "load", path, err)
		if safe {
			s.logger.Warn("baseline unreadable; using empty snapshot", logging.String(logging.FieldFilePath, path), logging.Error(wrapped))
			return snapshot.Empty(), codec.FormatUnknown, nil
		}
		return nil, codec.FormatUnknown, wrapped
	}
	return s.Decode(data, safe)
}

// Decode parses an encoded baseline blob.
func (s *Store) Decode(data []byte, safe bool) (*snapshot.Baseline, codec.Format, error) {
	var b snapshot.Baseline
	format, ok, err := s.codecs.DecodeJSON(data, safe, &b)
	if err != nil {
		return nil, format, err
	}
	if !ok {
		s.logger.Warn("baseline undecodable; using empty snapshot", logging.String("format", string(format)))
		return snapshot.Empty(), format, nil
	}
	if b.Cells == nil {
		b.Cells = map[string]snapshot.Sheet{}
	}
	return &b, format, nil
}

// PathFor returns a stable baseline location for a workbook inside dir.
func PathFor(dir, workbook string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.baseline", sanitize(filepath.Base(workbook)), shortHash(workbook)))
}
