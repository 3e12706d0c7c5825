package tfidf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/kalambet/qabot/internal/textnorm"
)

// formatVersion is bumped whenever the snapshot layout or the scoring
// pipeline changes, which invalidates every cache written before.
const formatVersion = 1

var (
	// ErrStaleCache is returned when a snapshot was built from other documents.
	ErrStaleCache = errors.New("index cache is stale")
	// ErrCorruptCache is returned when a snapshot fails structural validation.
	ErrCorruptCache = errors.New("index cache is corrupt")
)

type snapshot struct {
	Version        int              `json:"version"`
	Fingerprint    string           `json:"fingerprint"`
	FoldDiacritics bool             `json:"fold_diacritics"`
	IDs            []string         `json:"ids"`
	Terms          []string         `json:"terms"`
	IDF            []float64        `json:"idf"`
	Vectors        []snapshotVector `json:"vectors"`
}

type snapshotVector struct {
	Cols    []int     `json:"c"`
	Weights []float64 `json:"w"`
}

// WriteTo writes a zstd-compressed snapshot of the index to w.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	snap := snapshot{
		Version:        formatVersion,
		Fingerprint:    x.fingerprint,
		FoldDiacritics: x.opts.Normalize.FoldDiacritics,
		IDs:            x.ids,
		Terms:          x.terms,
		IDF:            x.idf,
		Vectors:        make([]snapshotVector, len(x.vectors)),
	}
	for i, v := range x.vectors {
		sv := snapshotVector{Cols: make([]int, len(v)), Weights: make([]float64, len(v))}
		for j, e := range v {
			sv.Cols[j] = e.Col
			sv.Weights[j] = e.Weight
		}
		snap.Vectors[i] = sv
	}

	cw := &countingWriter{w: w}
	enc, err := zstd.NewWriter(cw)
	if err != nil {
		return 0, fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		return cw.n, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return cw.n, fmt.Errorf("flushing snapshot: %w", err)
	}
	return cw.n, nil
}

// ReadIndex decodes a snapshot written by WriteTo and validates its structure.
func ReadIndex(r io.Reader) (*Index, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptCache, err)
	}
	defer dec.Close()

	var snap snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptCache, err)
	}
	return fromSnapshot(snap)
}

func fromSnapshot(snap snapshot) (*Index, error) {
	if snap.Version != formatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrStaleCache, snap.Version, formatVersion)
	}
	if len(snap.IDF) != len(snap.Terms) {
		return nil, fmt.Errorf("%w: %d idf weights for %d terms", ErrCorruptCache, len(snap.IDF), len(snap.Terms))
	}
	if len(snap.Vectors) != len(snap.IDs) {
		return nil, fmt.Errorf("%w: %d vectors for %d documents", ErrCorruptCache, len(snap.Vectors), len(snap.IDs))
	}

	opts := Options{Normalize: textnorm.Options{FoldDiacritics: snap.FoldDiacritics}}
	x := &Index{
		opts:        opts,
		norm:        textnorm.New(opts.Normalize),
		vocab:       make(map[string]int, len(snap.Terms)),
		terms:       snap.Terms,
		idf:         snap.IDF,
		ids:         snap.IDs,
		vectors:     make([]Vector, len(snap.Vectors)),
		fingerprint: snap.Fingerprint,
	}
	for col, term := range snap.Terms {
		if _, dup := x.vocab[term]; dup {
			return nil, fmt.Errorf("%w: duplicate term %q", ErrCorruptCache, term)
		}
		x.vocab[term] = col
	}
	for i, sv := range snap.Vectors {
		if len(sv.Cols) != len(sv.Weights) {
			return nil, fmt.Errorf("%w: vector %d has mismatched lengths", ErrCorruptCache, i)
		}
		v := make(Vector, len(sv.Cols))
		for j, col := range sv.Cols {
			if col < 0 || col >= len(x.terms) || (j > 0 && col <= sv.Cols[j-1]) {
				return nil, fmt.Errorf("%w: vector %d has invalid column %d", ErrCorruptCache, i, col)
			}
			v[j] = Entry{Col: col, Weight: sv.Weights[j]}
		}
		x.vectors[i] = v
	}
	x.indexPostings()
	return x, nil
}

// SaveFile atomically replaces path with a snapshot of x.
func SaveFile(path string, x *Index) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := x.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadFile reads a snapshot from path and returns it only if its fingerprint
// equals want. A missing file yields an error matching os.ErrNotExist.
func LoadFile(path, want string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := ReadIndex(f)
	if err != nil {
		return nil, err
	}
	if x.fingerprint != want {
		return nil, ErrStaleCache
	}
	return x, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
