package importer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/kalambet/qabot/internal/storage"
)

type exportRecord struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp"`
}

// WriteJSON writes records as an indented JSON list that Parse reads back.
func WriteJSON(w io.Writer, records []storage.QARecord) error {
	out := make([]exportRecord, len(records))
	for i, r := range records {
		out[i] = exportRecord{
			ID:        r.ID,
			Question:  r.Question,
			Answer:    r.Answer,
			Timestamp: r.CreatedAt.Format(time.RFC3339),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
