package engine

import (
	"context"
	"log/slog"

	"github.com/kalambet/qabot/internal/storage"
)

// DefaultFallbackAnswer is returned when no taught question is similar enough.
const DefaultFallbackAnswer = "Xin lỗi, tôi chưa được train để trả lời câu hỏi này. Bạn có thể dạy tôi không?"

// DefaultCacheSize is the number of answers kept in the LRU between mutations.
const DefaultCacheSize = 256

// recentLimit bounds Stats.Recent.
const recentLimit = 5

// Answer sources.
const (
	SourceTrained = "trained"
	SourceUnknown = "unknown"
)

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateStale
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateStale:
		return "stale"
	default:
		return "uninitialized"
	}
}

// RecordStore is the durable side of the engine. Implemented by storage.Store.
type RecordStore interface {
	ListQARecords(ctx context.Context) ([]storage.QARecord, error)
	InsertQARecords(ctx context.Context, records []storage.QARecord) error
	UpdateQARecord(ctx context.Context, r storage.QARecord) error
	DeleteQARecord(ctx context.Context, id string) error
}

// Config controls how an Engine matches and where it keeps its files.
type Config struct {
	// DataDir holds the lock file and the index cache. Empty disables both.
	DataDir string
	// Threshold is the minimum cosine score for a match, in [0, 1]. Nil
	// selects tfidf.DefaultThreshold.
	Threshold      *float64
	FoldDiacritics bool
	FallbackAnswer string
	CacheSize      int
	Logger         *slog.Logger
}

// Answer is the result of Ask.
type Answer struct {
	Text       string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Matched    bool    `json:"matched"`
	Source     string  `json:"source"`
	RecordID   string  `json:"record_id,omitempty"`
	Question   string  `json:"matched_question,omitempty"`
	BestScore  float64 `json:"best_score"`
}

// Pair is an untrusted question-answer pair to be taught.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Entry is a record with its current 1-based position in store order.
type Entry struct {
	Position int `json:"position"`
	storage.QARecord
}

// Stats summarizes the knowledge base.
type Stats struct {
	Count  int                `json:"total_records"`
	Recent []storage.QARecord `json:"recent"`
	State  string             `json:"state"`
}
