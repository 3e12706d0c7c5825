package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/qabot/internal/config"
	"github.com/kalambet/qabot/internal/engine"
	"github.com/kalambet/qabot/internal/importer"
	"github.com/kalambet/qabot/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the running server a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var threshold *float64
		if cmd.Flags().Changed("threshold") {
			v, _ := cmd.Flags().GetFloat64("threshold")
			threshold = &v
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, os.Stdout, strings.Join(args, " "), threshold)
	},
}

func init() {
	askCmd.Flags().Float64("threshold", 0, "minimum similarity in [0, 1] (default: server setting)")
}

// runAsk posts question to /ask. A nil threshold leaves the server default.
func runAsk(ctx context.Context, client *apiClient, w io.Writer, question string, threshold *float64) error {
	body := map[string]any{"text": question}
	if threshold != nil {
		body["threshold"] = *threshold
	}
	resp, err := client.post(ctx, "/ask", body)
	if err != nil {
		return err
	}

	var a engine.Answer
	if err := decodeJSON(resp, &a); err != nil {
		return err
	}
	printAnswer(w, a)
	return nil
}

func printAnswer(w io.Writer, a engine.Answer) {
	fmt.Fprintf(w, "🤖 %s\n", a.Text)
	fmt.Fprintf(w, "   📊 Độ tin cậy: %s\n", confidenceBar(a.Confidence))
	fmt.Fprintf(w, "   🔍 Nguồn: %s\n", a.Source)
	if a.Matched && a.Question != "" {
		fmt.Fprintf(w, "   ❓ Khớp với: %s\n", a.Question)
	}
}

// --- teach ---

var teachCmd = &cobra.Command{
	Use:   "teach <question> <answer>",
	Short: "Teach the bot a question-answer pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		rec, err := runTeach(cmd.Context(), client, args[0], args[1])
		if err != nil {
			return err
		}
		printSuccess("Đã thêm: %s (%s)", preview(rec.Question, 50), rec.ID)
		return nil
	},
}

func runTeach(ctx context.Context, client *apiClient, question, answer string) (storage.QARecord, error) {
	resp, err := client.post(ctx, "/train", engine.Pair{Question: question, Answer: answer})
	if err != nil {
		return storage.QARecord{}, err
	}
	var result struct {
		Record storage.QARecord `json:"record"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return storage.QARecord{}, err
	}
	return result.Record, nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every taught pair with its position",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, err := fetchEntries(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No records. Teach one with: qabot teach <question> <answer>")
			return nil
		}
		printEntries(os.Stdout, entries)
		return nil
	},
}

func fetchEntries(ctx context.Context, client *apiClient) ([]engine.Entry, error) {
	resp, err := client.get(ctx, "/admin/data")
	if err != nil {
		return nil, err
	}
	var result struct {
		TrainingData []engine.Entry `json:"training_data"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	return result.TrainingData, nil
}

func printEntries(w io.Writer, entries []engine.Entry) {
	for _, e := range entries {
		id := e.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%3d  %s  %s\n", e.Position, colorize(colorCyan, id), preview(e.Question, 60))
		fmt.Fprintf(w, "          → %s\n", preview(e.Answer, 60))
	}
}

// --- update / delete ---

var updateCmd = &cobra.Command{
	Use:   "update <id|position> <question> <answer>",
	Short: "Replace a pair's question and answer",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/admin/update/"+url.PathEscape(args[0]), engine.Pair{Question: args[1], Answer: args[2]})
		if err != nil {
			return err
		}
		var result struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result.Message)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id|position>",
	Short: "Delete a pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/admin/delete/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s", result.Message)
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/stats")
		if err != nil {
			return err
		}
		var stats engine.Stats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		printStats(os.Stdout, stats)
		return nil
	},
}

func printStats(w io.Writer, stats engine.Stats) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "📊 THỐNG KÊ CHATBOT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Tổng số cặp Q&A: %d\n", stats.Count)
	if len(stats.Recent) > 0 {
		fmt.Fprintf(w, "\n📚 %d cặp Q&A gần nhất:\n", len(stats.Recent))
		for i, r := range stats.Recent {
			fmt.Fprintf(w, "\n%d. Q: %s\n", i+1, preview(r.Question, 60))
			fmt.Fprintf(w, "   A: %s\n", preview(r.Answer, 60))
		}
	}
	fmt.Fprintln(w, rule)
}

// --- import / export ---

var importCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Bulk-teach pairs from JSON, CSV, text, HTML or PDF files",
	Long: `Bulk-teach question-answer pairs. The format follows the file extension:

  .json  [{"question": ..., "answer": ...}] or an export file
  .csv   question,answer rows (an optional header may name the columns)
  .txt   "Q: ..." / "A: ..." blocks
  .html  <dl> term lists and <details>/<summary> blocks
  .pdf   Q:/A: text

Examples:
  qabot import faq.json support.csv
  qabot import --samples`,
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, _ := cmd.Flags().GetBool("samples")
		if !samples && len(args) == 0 {
			return fmt.Errorf("give at least one file, or --samples")
		}

		var pairs []engine.Pair
		if samples {
			pairs = append(pairs, importer.Samples()...)
		}
		if len(args) > 0 {
			parsed, err := importer.ParseFiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			pairs = append(pairs, parsed...)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		n, total, err := runImport(cmd.Context(), client, pairs)
		if err != nil {
			return err
		}
		printSuccess("Đã import %d cặp Q&A (tổng %d)", n, total)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("samples", false, "import the starter sample pairs")
}

func runImport(ctx context.Context, client *apiClient, pairs []engine.Pair) (imported, total int, err error) {
	resp, err := client.post(ctx, "/admin/import", pairs)
	if err != nil {
		return 0, 0, err
	}
	var result struct {
		Imported int `json:"imported"`
		Total    int `json:"total"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return 0, 0, err
	}
	return result.Imported, result.Total, nil
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the knowledge base as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		entries, err := fetchEntries(cmd.Context(), client)
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		records := make([]storage.QARecord, len(entries))
		for i, e := range entries {
			records[i] = e.QARecord
		}
		if err := importer.WriteJSON(w, records); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported %d records to %s", len(records), output)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")
}

// --- unanswered ---

var unansweredCmd = &cobra.Command{
	Use:   "unanswered",
	Short: "List recent questions the bot could not answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/admin/unanswered?limit=%d", limit))
		if err != nil {
			return err
		}
		var asks []storage.AskEntry
		if err := decodeJSON(resp, &asks); err != nil {
			return err
		}

		if len(asks) == 0 {
			fmt.Println("No unanswered questions.")
			return nil
		}
		for _, a := range asks {
			fmt.Printf("%s  %-8s  %.2f  %s\n",
				a.CreatedAt.Local().Format("2006-01-02 15:04"),
				a.Channel,
				a.BestScore,
				preview(a.Query, 80),
			)
		}
		return nil
	},
}

func init() {
	unansweredCmd.Flags().Int("limit", 20, "maximum number of questions to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		fmt.Printf("\nSecrets are stored in %s\n", config.SecretLocation())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
