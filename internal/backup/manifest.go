// Package backup captures write-once, checksummed snapshots of a table and
// restores legacy columns from them.
//
// A capture produces two files in the sink directory:
//
//	<table>-<UTC timestamp>.jsonl          one canonical JSON row per line
//	<table>-<UTC timestamp>.manifest.json  row count, sha256 and xxh3 chunks
//
// Both are created exclusively and made read-only once written.
package backup

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"dbtidy/internal/names"
)

// Errors reported by VerifyArtifact and Latest.
var (
	ErrChecksumMismatch = errors.New("backup checksum mismatch")
	ErrNoBackup         = errors.New("no backup found")
)

const (
	manifestSuffix = ".manifest.json"
	dataSuffix     = ".jsonl"
	stampLayout    = "20060102T150405.000Z"
	formatVersion  = 1
)

// Chunk fingerprints a run of consecutive lines of the data file.
type Chunk struct {
	Index  int    `json:"index"`
	Rows   int    `json:"rows"`
	Digest string `json:"xxh3"`
}

// Manifest is the verification record stored next to the data file.
type Manifest struct {
	Version    int       `json:"version"`
	Table      string    `json:"table"`
	KeyColumn  string    `json:"key_column"`
	Driver     string    `json:"driver"`
	DataFile   string    `json:"data_file"`
	CapturedAt time.Time `json:"captured_at"`
	RowCount   int64     `json:"row_count"`
	// Columns lists the table's columns at capture time.
	Columns []string `json:"columns"`
	// Checksum is "sha256:<hex>" over the data file bytes.
	Checksum  string  `json:"checksum"`
	ChunkSize int     `json:"chunk_size"`
	Chunks    []Chunk `json:"chunks"`
}

// Artifact is a manifest plus where it lives on disk.
type Artifact struct {
	Manifest
	// Path is the manifest file.
	Path string `json:"path"`
}

// DataPath is the absolute path of the data file.
func (a Artifact) DataPath() string {
	return filepath.Join(filepath.Dir(a.Path), a.DataFile)
}

// baseName is the file stem shared by the data file and manifest.
func baseName(table string, at time.Time) string {
	return names.Normalize(table) + "-" + at.UTC().Format(stampLayout)
}

// Load reads a manifest file.
func Load(path string) (Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Artifact{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	if m.DataFile == "" || m.Checksum == "" {
		return Artifact{}, fmt.Errorf("manifest %s: missing data file or checksum", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Artifact{Manifest: m, Path: abs}, nil
}

// Latest returns the most recent artifact for table in dir.
func Latest(dir, table string) (Artifact, error) {
	matches, err := filepath.Glob(filepath.Join(dir, names.Normalize(table)+"-*"+manifestSuffix))
	if err != nil {
		return Artifact{}, err
	}
	var found []Artifact
	for _, p := range matches {
		a, err := Load(p)
		if err != nil || a.Table != table {
			continue
		}
		found = append(found, a)
	}
	if len(found) == 0 {
		return Artifact{}, fmt.Errorf("%w for %s in %s", ErrNoBackup, table, dir)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CapturedAt.Before(found[j].CapturedAt) })
	return found[len(found)-1], nil
}

// VerifyArtifact recomputes the checksum, row count and chunk digests of
// the data file and compares them with the manifest.
func VerifyArtifact(a Artifact) error {
	f, err := os.Open(a.DataPath())
	if err != nil {
		return fmt.Errorf("read backup data: %w", err)
	}
	defer f.Close()
	sequential(f)

	sum := sha256.New()
	ch := newChunker(a.ChunkSize)
	var rows int64
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			sum.Write(line)
			ch.add(line)
			rows++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read backup data: %w", err)
		}
	}

	if got := "sha256:" + hex.EncodeToString(sum.Sum(nil)); got != a.Checksum {
		return fmt.Errorf("%w: %s: manifest %s, data %s", ErrChecksumMismatch, a.DataFile, a.Checksum, got)
	}
	if rows != a.RowCount {
		return fmt.Errorf("%w: %s: manifest rows %d, data rows %d", ErrChecksumMismatch, a.DataFile, a.RowCount, rows)
	}
	chunks := ch.finish()
	if len(chunks) != len(a.Chunks) {
		return fmt.Errorf("%w: %s: chunk count %d, want %d", ErrChecksumMismatch, a.DataFile, len(chunks), len(a.Chunks))
	}
	for i := range chunks {
		if chunks[i] != a.Chunks[i] {
			return fmt.Errorf("%w: %s: chunk %d differs", ErrChecksumMismatch, a.DataFile, i)
		}
	}
	return nil
}

// chunker fingerprints consecutive runs of size lines with xxh3.
type chunker struct {
	size int
	h    *xxh3.Hasher
	rows int
	out  []Chunk
}

func newChunker(size int) *chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &chunker{size: size, h: xxh3.New()}
}

func (c *chunker) add(line []byte) {
	_, _ = c.h.Write(line)
	c.rows++
	if c.rows == c.size {
		c.flush()
	}
}

func (c *chunker) flush() {
	if c.rows == 0 {
		return
	}
	c.out = append(c.out, Chunk{Index: len(c.out), Rows: c.rows, Digest: fmt.Sprintf("%016x", c.h.Sum64())})
	c.h.Reset()
	c.rows = 0
}

func (c *chunker) finish() []Chunk {
	c.flush()
	return c.out
}
