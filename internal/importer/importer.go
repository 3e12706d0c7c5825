// Package importer reads question-answer pairs from JSON, CSV, plain text,
// HTML and PDF files, and writes the knowledge base back out as JSON.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/qabot/internal/engine"
)

// Format identifies an input file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// maxFileSize bounds a single import file.
const maxFileSize = 32 << 20

var (
	// ErrUnsupportedFormat is returned for unknown extensions or format names.
	ErrUnsupportedFormat = errors.New("unsupported import format")
	// ErrNoPairs is returned when an input contains no question-answer pairs.
	ErrNoPairs = errors.New("no question-answer pairs found")
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "txt", "text", "md":
		return FormatText, nil
	case "html", "htm":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// DetectFormat picks a format from a file name's extension.
func DetectFormat(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, filepath.Base(path))
	}
	return ParseFormat(ext)
}

// Parse reads every pair from r.
func Parse(r io.Reader, f Format) ([]engine.Pair, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input exceeds %d bytes", maxFileSize)
	}

	var pairs []engine.Pair
	switch f {
	case FormatJSON:
		pairs, err = parseJSON(data)
	case FormatCSV:
		pairs, err = parseCSV(bytes.NewReader(data))
	case FormatText:
		pairs, err = parseText(bytes.NewReader(data))
	case FormatHTML:
		pairs, err = parseHTML(bytes.NewReader(data))
	case FormatPDF:
		pairs, err = parsePDF(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, ErrNoPairs
	}
	return pairs, nil
}

// ParseFile parses path using the format implied by its extension.
func ParseFile(path string) ([]engine.Pair, error) {
	f, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pairs, err := Parse(file, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return pairs, nil
}

// ParseFiles parses paths concurrently and concatenates their pairs in
// argument order. The first failure cancels the rest.
func ParseFiles(ctx context.Context, paths []string) ([]engine.Pair, error) {
	results := make([][]engine.Pair, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pairs, err := ParseFile(p)
			if err != nil {
				return err
			}
			results[i] = pairs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []engine.Pair
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// Samples returns the starter knowledge base seeded by `qabot import --samples`.
func Samples() []engine.Pair {
	return []engine.Pair{
		{Question: "Xin chào", Answer: "Xin chào! Tôi là AI chatbot. Tôi có thể giúp gì cho bạn?"},
		{Question: "Bạn tên gì", Answer: "Tôi là AI chatbot. Bạn có thể gọi tôi là Bot!"},
		{Question: "Bạn có thể làm gì", Answer: "Tôi có thể trả lời câu hỏi dựa trên những gì bạn dạy tôi. Bạn có thể train thêm cho tôi!"},
		{Question: "Thời tiết hôm nay thế nào", Answer: "Xin lỗi, tôi không có khả năng kiểm tra thời tiết thời gian thực. Nhưng bạn có thể dạy tôi cách trả lời!"},
		{Question: "Cảm ơn", Answer: "Không có chi! Rất vui được giúp đỡ bạn 😊"},
		{Question: "Tạm biệt", Answer: "Tạm biệt! Hẹn gặp lại bạn! 👋"},
	}
}
