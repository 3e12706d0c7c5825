// Package engine owns the question-answer store and the TF-IDF index built
// from it. Every mutation rebuilds the index before the store is written, so
// a successful call is immediately visible to Ask and a failed one leaves
// both sides as they were.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/qabot/internal/storage"
	"github.com/kalambet/qabot/internal/textnorm"
	"github.com/kalambet/qabot/internal/tfidf"
)

// CacheFileName is the index snapshot kept in the data directory.
const CacheFileName = "index.cache"

// Engine answers questions from the taught records. It is safe for
// concurrent use; mutations are serialized and Ask waits for them.
type Engine struct {
	store   RecordStore
	cfg     Config
	logger  *slog.Logger
	lock    *dirLock
	answers *lru.Cache[string, Answer]
	now     func() time.Time

	threshold float64

	mu      sync.RWMutex
	state   State
	closed  bool
	records []storage.QARecord
	index   *tfidf.Index

	// cacheHit reports whether Open restored the index from disk.
	cacheHit bool
}

// Open loads every record from store and makes the engine ready to answer.
// The index is restored from the data directory when its fingerprint matches
// the store, and rebuilt otherwise.
func Open(ctx context.Context, store RecordStore, cfg Config) (*Engine, error) {
	threshold := tfidf.DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
		if threshold < 0 || threshold > 1 {
			return nil, fmt.Errorf("%w: threshold %v must be in [0, 1]", ErrValidation, threshold)
		}
	}
	if strings.TrimSpace(cfg.FallbackAnswer) == "" {
		cfg.FallbackAnswer = DefaultFallbackAnswer
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	answers, err := lru.New[string, Answer](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating answer cache: %w", err)
	}

	e := &Engine{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		answers: answers,
		now:     time.Now,

		threshold: threshold,
	}

	if cfg.DataDir != "" {
		e.lock = newDirLock(cfg.DataDir)
		ok, err := e.lock.tryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLocked, cfg.DataDir)
		}
	}

	if err := e.load(ctx); err != nil {
		e.lock.unlock()
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	records, err := e.store.ListQARecords(ctx)
	if err != nil {
		return fmt.Errorf("%w: loading records: %w", ErrPersistence, err)
	}

	docs := documents(records)
	opts := e.indexOptions()

	var idx *tfidf.Index
	if path := e.cachePath(); path != "" {
		idx, err = tfidf.LoadFile(path, tfidf.Fingerprint(docs, opts))
		switch {
		case err == nil:
			e.cacheHit = true
			e.logger.Debug("index restored from cache", "records", idx.Len(), "terms", idx.VocabularySize())
		case errors.Is(err, fs.ErrNotExist):
			e.logger.Debug("no index cache, building")
		default:
			e.logger.Info("index cache rejected, rebuilding", "error", err)
		}
	}

	if idx == nil {
		start := time.Now()
		idx, err = tfidf.Build(docs, opts)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrIndexBuild, err)
		}
		e.logger.Info("index built", "records", idx.Len(), "terms", idx.VocabularySize(), "duration", time.Since(start))
		e.saveCache(idx)
	}

	e.records = records
	e.index = idx
	e.state = StateReady
	return nil
}

// Ask answers text using the configured threshold. It never fails; when
// nothing is similar enough the fallback answer is returned.
func (e *Engine) Ask(ctx context.Context, text string) Answer {
	return e.AskWithThreshold(ctx, text, e.threshold)
}

// AskWithThreshold is Ask with a per-call threshold.
func (e *Engine) AskWithThreshold(_ context.Context, text string, threshold float64) Answer {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed || e.index == nil {
		return e.fallback(0)
	}

	cacheable := utf8.ValidString(text)
	key := strconv.FormatFloat(threshold, 'g', -1, 64) + "\x00" + e.index.Normalize(text)
	if cacheable {
		if a, ok := e.answers.Get(key); ok {
			return a
		}
	}

	m := e.index.Match(text, threshold)
	var a Answer
	if m.Found {
		r := e.records[m.Position]
		a = Answer{
			Text:       r.Answer,
			Confidence: m.Score,
			Matched:    true,
			Source:     SourceTrained,
			RecordID:   r.ID,
			Question:   r.Question,
			BestScore:  m.Score,
		}
	} else {
		a = e.fallback(m.Score)
	}

	if cacheable {
		e.answers.Add(key, a)
	}
	return a
}

func (e *Engine) fallback(best float64) Answer {
	return Answer{
		Text:      e.cfg.FallbackAnswer,
		Source:    SourceUnknown,
		BestScore: best,
	}
}

// Teach appends one question-answer pair.
func (e *Engine) Teach(ctx context.Context, question, answer string) (storage.QARecord, error) {
	recs, err := e.TeachMany(ctx, []Pair{{Question: question, Answer: answer}})
	if err != nil {
		return storage.QARecord{}, err
	}
	return recs[0], nil
}

// TeachMany appends pairs in order with a single store transaction and a
// single rebuild. Any invalid pair rejects the whole batch.
func (e *Engine) TeachMany(ctx context.Context, pairs []Pair) ([]storage.QARecord, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	now := e.now().UTC()
	added := make([]storage.QARecord, len(pairs))
	for i, p := range pairs {
		q, a, err := validatePair(p.Question, p.Answer)
		if err != nil {
			if len(pairs) > 1 {
				return nil, fmt.Errorf("pair %d: %w", i+1, err)
			}
			return nil, err
		}
		added[i] = storage.QARecord{
			ID:        uuid.NewString(),
			Question:  q,
			Answer:    a,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	next := make([]storage.QARecord, 0, len(e.records)+len(added))
	next = append(next, e.records...)
	next = append(next, added...)

	err := e.mutate(ctx, "teach", next, func(ctx context.Context) error {
		return e.store.InsertQARecords(ctx, added)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("taught", "count", len(added), "total", len(next))
	return append([]storage.QARecord(nil), added...), nil
}

// Update replaces the question and answer of the record with the given id.
// Its id and position are unchanged.
func (e *Engine) Update(ctx context.Context, id, question, answer string) (storage.QARecord, error) {
	q, a, err := validatePair(question, answer)
	if err != nil {
		return storage.QARecord{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.QARecord{}, ErrClosed
	}

	pos := e.position(id)
	if pos < 0 {
		return storage.QARecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	updated := e.records[pos]
	updated.Question = q
	updated.Answer = a
	updated.UpdatedAt = e.now().UTC()

	next := append([]storage.QARecord(nil), e.records...)
	next[pos] = updated

	err = e.mutate(ctx, "update", next, func(ctx context.Context) error {
		return e.store.UpdateQARecord(ctx, updated)
	})
	if err != nil {
		return storage.QARecord{}, err
	}
	e.logger.Info("updated", "id", id, "position", pos+1)
	return updated, nil
}

// Delete removes the record with the given id and returns it. Later records
// move up one position; their ids do not change.
func (e *Engine) Delete(ctx context.Context, id string) (storage.QARecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.QARecord{}, ErrClosed
	}

	pos := e.position(id)
	if pos < 0 {
		return storage.QARecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := e.records[pos]

	next := make([]storage.QARecord, 0, len(e.records)-1)
	next = append(next, e.records[:pos]...)
	next = append(next, e.records[pos+1:]...)

	err := e.mutate(ctx, "delete", next, func(ctx context.Context) error {
		return e.store.DeleteQARecord(ctx, id)
	})
	if err != nil {
		return storage.QARecord{}, err
	}
	e.logger.Info("deleted", "id", id, "position", pos+1, "total", len(next))
	return removed, nil
}

// mutate runs the rebuild-then-commit protocol. The caller holds e.mu.
func (e *Engine) mutate(ctx context.Context, op string, next []storage.QARecord, commit func(context.Context) error) error {
	e.state = StateStale
	defer func() { e.state = StateReady }()

	idx, err := tfidf.Build(documents(next), e.indexOptions())
	if err != nil {
		e.logger.Error("index build failed, keeping previous index", "op", op, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrIndexBuild, op, err)
	}

	if err := commit(ctx); err != nil {
		e.logger.Error("store write failed, keeping previous index", "op", op, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}

	e.records = next
	e.index = idx
	e.answers.Purge()
	e.saveCache(idx)
	return nil
}

// Get returns the record with the given id.
func (e *Engine) Get(_ context.Context, id string) (storage.QARecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos := e.position(id)
	if pos < 0 {
		return storage.QARecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.records[pos], nil
}

// List returns every record in store order with its position.
func (e *Engine) List(_ context.Context) []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Entry, len(e.records))
	for i, r := range e.records {
		out[i] = Entry{Position: i + 1, QARecord: r}
	}
	return out
}

// Resolve turns an external reference into a record id. A reference is
// either a record id or a 1-based position.
func (e *Engine) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.position(ref) >= 0 {
		return ref, nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(e.records) {
			return "", fmt.Errorf("%w: position %d (have %d records)", ErrNotFound, n, len(e.records))
		}
		return e.records[n-1].ID, nil
	}
	if _, err := uuid.Parse(ref); err == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return "", fmt.Errorf("%w: %q is neither a record id nor a position", ErrValidation, ref)
}

// Stats returns the record count and the most recently taught records,
// oldest first.
func (e *Engine) Stats(_ context.Context) Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	from := max(len(e.records)-recentLimit, 0)
	return Stats{
		Count:  len(e.records),
		Recent: append([]storage.QARecord{}, e.records[from:]...),
		State:  e.state.String(),
	}
}

// State reports the lifecycle state. Readers never observe StateStale
// because mutations hold the write lock while stale.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Threshold returns the configured match threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Close releases the data directory. The store is owned by the caller.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.state = StateUninitialized
	e.answers.Purge()
	return e.lock.unlock()
}

func (e *Engine) position(id string) int {
	for i, r := range e.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) indexOptions() tfidf.Options {
	return tfidf.Options{Normalize: textnorm.Options{FoldDiacritics: e.cfg.FoldDiacritics}}
}

func (e *Engine) cachePath() string {
	if e.cfg.DataDir == "" {
		return ""
	}
	return filepath.Join(e.cfg.DataDir, CacheFileName)
}

// saveCache is best effort: the index can always be rebuilt.
func (e *Engine) saveCache(idx *tfidf.Index) {
	path := e.cachePath()
	if path == "" {
		return
	}
	if err := tfidf.SaveFile(path, idx); err != nil {
		e.logger.Warn("writing index cache", "path", path, "error", err)
	}
}

func validatePair(question, answer string) (string, string, error) {
	q := strings.TrimSpace(question)
	a := strings.TrimSpace(answer)
	switch {
	case q == "" && a == "":
		return "", "", fmt.Errorf("%w: question and answer are required", ErrValidation)
	case q == "":
		return "", "", fmt.Errorf("%w: question is required", ErrValidation)
	case a == "":
		return "", "", fmt.Errorf("%w: answer is required", ErrValidation)
	}
	return q, a, nil
}

func documents(records []storage.QARecord) []tfidf.Document {
	docs := make([]tfidf.Document, len(records))
	for i, r := range records {
		docs[i] = tfidf.Document{ID: r.ID, Text: r.Question}
	}
	return docs
}
