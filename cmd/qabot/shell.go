package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kalambet/qabot/internal/api"
	"github.com/kalambet/qabot/internal/config"
	"github.com/kalambet/qabot/internal/engine"
	"github.com/kalambet/qabot/internal/importer"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Chat with the bot interactively (opens the data dir directly)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := setupLogging(cfg); err != nil {
			return err
		}

		ctx := cmd.Context()
		local, err := openLocal(ctx, cfg)
		if err != nil {
			return err
		}
		defer local.Close()

		if local.eng.Stats(ctx).Count == 0 {
			printStep("Import dữ liệu mẫu...")
			if _, err := local.eng.TeachMany(ctx, importer.Samples()); err != nil {
				return err
			}
		}

		lines, out, restore, err := openPrompt()
		if err != nil {
			return err
		}
		defer restore()

		sh := &shell{eng: local.eng, asks: local.asks, in: lines, out: out}
		return sh.run(ctx)
	},
}

// lineReader reads one line of input after showing prompt.
type lineReader interface {
	ReadLine(prompt string) (string, error)
}

// termReader edits lines on a raw-mode terminal.
type termReader struct {
	t *term.Terminal
}

func (r termReader) ReadLine(prompt string) (string, error) {
	r.t.SetPrompt(prompt)
	return r.t.ReadLine()
}

// scanReader reads lines from a pipe or file.
type scanReader struct {
	sc  *bufio.Scanner
	out io.Writer
}

func (r scanReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

// openPrompt uses line editing on a terminal and plain scanning otherwise.
func openPrompt() (lineReader, io.Writer, func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return scanReader{sc: bufio.NewScanner(os.Stdin), out: os.Stdout}, os.Stdout, func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("entering raw mode: %w", err)
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "")
	return termReader{t: t}, t, func() { term.Restore(fd, state) }, nil
}

type shell struct {
	eng  *engine.Engine
	asks *api.AskRecorder
	in   lineReader
	out  io.Writer
}

func (s *shell) run(ctx context.Context) error {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(s.out, rule)
	fmt.Fprintln(s.out, "🤖 QABOT - Chế độ tương tác")
	fmt.Fprintln(s.out, rule)
	fmt.Fprintln(s.out, "Lệnh:")
	fmt.Fprintln(s.out, "  'train' - Thêm training data")
	fmt.Fprintln(s.out, "  'stats' - Xem thống kê")
	fmt.Fprintln(s.out, "  'exit'  - Thoát")
	fmt.Fprintln(s.out, rule)
	fmt.Fprintln(s.out)

	for {
		line, err := s.in.ReadLine("👤 Bạn: ")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out, "\n👋 Tạm biệt!")
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(s.out, "👋 Tạm biệt!")
			return nil
		case "train":
			if err := s.train(ctx); err != nil {
				return err
			}
			continue
		case "stats":
			printStats(s.out, s.eng.Stats(ctx))
			continue
		}

		a := s.eng.Ask(ctx, line)
		s.asks.Record(ctx, api.ChannelShell, line, a)
		fmt.Fprintf(s.out, "🤖 Bot: %s\n", a.Text)
		fmt.Fprintf(s.out, "   📊 Độ tin cậy: %s\n", confidenceBar(a.Confidence))
		fmt.Fprintf(s.out, "   🔍 Nguồn: %s\n\n", a.Source)
	}
}

// train reads question-answer pairs until the user types "back" or declines
// to add another.
func (s *shell) train(ctx context.Context) error {
	fmt.Fprintln(s.out, "\n--- Chế độ Training ---")
	fmt.Fprintln(s.out, "(Nhập 'back' để quay lại)")
	fmt.Fprintln(s.out)

	for {
		q, done, err := s.prompt("📝 Câu hỏi: ")
		if err != nil || done {
			break
		}
		if q == "" {
			continue
		}
		a, done, err := s.prompt("💡 Câu trả lời: ")
		if err != nil || done {
			break
		}
		if a == "" {
			continue
		}

		rec, err := s.eng.Teach(ctx, q, a)
		if err != nil {
			fmt.Fprintf(s.out, "✗ %v\n", err)
			if !errors.Is(err, engine.ErrValidation) {
				return err
			}
			continue
		}
		fmt.Fprintf(s.out, "✓ Đã thêm: Q: %s\n", preview(rec.Question, 50))

		more, _, err := s.prompt("\n➕ Thêm cặp khác? (y/n): ")
		if err != nil || strings.ToLower(more) != "y" {
			break
		}
	}

	fmt.Fprintln(s.out, "\n✓ Hoàn tất training!")
	fmt.Fprintln(s.out)
	return nil
}

// prompt reads a trimmed line; done reports "back".
func (s *shell) prompt(p string) (string, bool, error) {
	line, err := s.in.ReadLine(p)
	if err != nil {
		return "", true, err
	}
	line = strings.TrimSpace(line)
	return line, strings.EqualFold(line, "back"), nil
}
