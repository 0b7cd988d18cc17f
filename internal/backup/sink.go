package backup

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"dbtidy/internal/consolidate"
	"dbtidy/internal/metrics"
	"dbtidy/internal/storage"
)

// DefaultChunkSize is the number of rows per xxh3 fingerprint.
const DefaultChunkSize = 1000

// line is one row of the data file.
type line struct {
	Key string         `json:"key"`
	Row map[string]any `json:"row"`
}

// Sink writes artifacts into Dir.
type Sink struct {
	Dir       string
	BatchSize int
	ChunkSize int
	Logger    *log.Logger
	Metrics   *metrics.Recorder
	// Now is the capture clock; nil means time.Now.
	Now func() time.Time
}

func (s *Sink) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Capture copies every row of table into a new artifact. A failed capture
// removes its partial files and returns the error.
func (s *Sink) Capture(ctx context.Context, store storage.Store, table, keyColumn string) (a Artifact, err error) {
	start := time.Now()
	defer func() { s.Metrics.Step("backup", err, time.Since(start)) }()

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("backup dir: %w", err)
	}
	cols, err := store.Columns(ctx, table)
	if err != nil {
		return Artifact{}, fmt.Errorf("backup %s: %w", table, err)
	}

	// Captures within the same millisecond step to the next free name.
	at := now().UTC()
	var (
		base, dataPath string
		f              *os.File
	)
	for i := 0; ; i++ {
		base = baseName(table, at)
		dataPath = filepath.Join(s.Dir, base+dataSuffix)
		f, err = os.OpenFile(dataPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) && i < 100 {
			at = at.Add(time.Millisecond)
			continue
		}
		break
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("create backup: %w", err)
	}
	manifestPath := filepath.Join(s.Dir, base+manifestSuffix)
	wroteManifest := false
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(dataPath)
			if wroteManifest {
				os.Remove(manifestPath)
			}
		}
	}()

	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = consolidate.DefaultBatchSize
	}

	m := Manifest{
		Version: formatVersion, Table: table, KeyColumn: keyColumn, Driver: store.Kind(),
		DataFile: base + dataSuffix, CapturedAt: at, ChunkSize: chunkSize,
	}
	for _, c := range cols {
		m.Columns = append(m.Columns, c.Name)
	}

	sum := sha256.New()
	ch := newChunker(chunkSize)
	w := bufio.NewWriter(f)
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return Artifact{}, err
		}
		recs, err := store.Scan(ctx, storage.ScanQuery{Table: table, KeyColumn: keyColumn, After: after, Limit: batch})
		if err != nil {
			return Artifact{}, fmt.Errorf("backup %s: scan after %q: %w", table, after, err)
		}
		for _, rec := range recs {
			b, err := consolidate.Canonical(line{Key: rec.Key, Row: rec.Values})
			if err != nil {
				return Artifact{}, fmt.Errorf("backup %s: encode %s: %w", table, rec.Key, err)
			}
			b = append(b, '\n')
			if _, err := w.Write(b); err != nil {
				return Artifact{}, fmt.Errorf("write backup: %w", err)
			}
			sum.Write(b)
			ch.add(b)
			after = rec.Key
			m.RowCount++
		}
		if len(recs) < batch {
			break
		}
		s.logger().Debug("backup progress", "table", table, "rows", m.RowCount)
	}
	if err := w.Flush(); err != nil {
		return Artifact{}, fmt.Errorf("write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		return Artifact{}, fmt.Errorf("sync backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close backup: %w", err)
	}
	m.Checksum = "sha256:" + hex.EncodeToString(sum.Sum(nil))
	m.Chunks = ch.finish()

	if err := writeOnce(manifestPath, m); err != nil {
		return Artifact{}, err
	}
	wroteManifest = true
	if err := os.Chmod(dataPath, 0o444); err != nil {
		return Artifact{}, fmt.Errorf("seal backup: %w", err)
	}

	if abs, err := filepath.Abs(manifestPath); err == nil {
		manifestPath = abs
	}
	s.logger().Info("backup captured", "table", table, "rows", m.RowCount, "file", dataPath, "checksum", m.Checksum)
	return Artifact{Manifest: m, Path: manifestPath}, nil
}

func writeOnce(path string, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o444)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	_, werr := f.Write(append(raw, '\n'))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(path)
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
