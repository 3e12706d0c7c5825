package importer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kalambet/qabot/internal/engine"
)

// parseJSON accepts a list of {"question","answer"} objects, the exported
// {"training_data": [...]} envelope, or a list of [question, answer] arrays.
func parseJSON(data []byte) ([]engine.Pair, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '{' {
		var env struct {
			TrainingData json.RawMessage `json:"training_data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
		if env.TrainingData == nil {
			return nil, errors.New(`decoding json: object without "training_data"`)
		}
		data = env.TrainingData
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	pairs := make([]engine.Pair, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '[' {
			var tuple []string
			if err := json.Unmarshal(item, &tuple); err != nil || len(tuple) != 2 {
				return nil, fmt.Errorf("decoding json: item %d is not a [question, answer] pair", i+1)
			}
			pairs = append(pairs, engine.Pair{Question: tuple[0], Answer: tuple[1]})
			continue
		}
		var p engine.Pair
		if err := json.Unmarshal(item, &p); err != nil {
			return nil, fmt.Errorf("decoding json: item %d: %w", i+1, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// parseCSV reads question,answer rows. A header row naming the columns is
// honoured in any column order.
func parseCSV(r io.Reader) ([]engine.Pair, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decoding csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	qi, ai := 0, 1
	if h := headerColumns(rows[0]); h != nil {
		qi, ai = h[0], h[1]
		rows = rows[1:]
	}

	pairs := make([]engine.Pair, 0, len(rows))
	for i, row := range rows {
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) <= max(qi, ai) {
			return nil, fmt.Errorf("decoding csv: row %d has %d columns", i+1, len(row))
		}
		pairs = append(pairs, engine.Pair{Question: row[qi], Answer: row[ai]})
	}
	return pairs, nil
}

func headerColumns(row []string) []int {
	qi, ai := -1, -1
	for i, col := range row {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "question", "q", "câu hỏi":
			qi = i
		case "answer", "a", "câu trả lời", "trả lời":
			ai = i
		}
	}
	if qi < 0 || ai < 0 {
		return nil
	}
	return []int{qi, ai}
}

var (
	questionPrefixes = []string{"q:", "question:", "hỏi:"}
	answerPrefixes   = []string{"a:", "answer:", "đáp:", "trả lời:"}
)

// parseText reads "Q: ..." / "A: ..." blocks. Lines that follow an answer
// without a new prefix continue it; text before the first question is ignored.
func parseText(r io.Reader) ([]engine.Pair, error) {
	var (
		pairs   []engine.Pair
		q, a    []string
		inQ     bool
		started bool
		qLine   int
	)
	flush := func() error {
		if !started {
			return nil
		}
		if len(a) == 0 {
			return fmt.Errorf("decoding text: question on line %d has no answer", qLine)
		}
		pairs = append(pairs, engine.Pair{
			Question: strings.Join(q, " "),
			Answer:   strings.Join(a, "\n"),
		})
		q, a = nil, nil
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFileSize)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if rest, ok := cutPrefixFold(text, questionPrefixes); ok {
			if err := flush(); err != nil {
				return nil, err
			}
			started, inQ, qLine = true, true, line
			q = appendNonEmpty(q, rest)
			continue
		}
		if rest, ok := cutPrefixFold(text, answerPrefixes); ok {
			if !started {
				return nil, fmt.Errorf("decoding text: answer on line %d has no question", line)
			}
			inQ = false
			a = appendNonEmpty(a, rest)
			continue
		}
		switch {
		case !started:
		case inQ:
			q = append(q, text)
		default:
			a = append(a, text)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading text: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func cutPrefixFold(s string, prefixes []string) (string, bool) {
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(s[len(p):]), true
		}
	}
	return "", false
}

func appendNonEmpty(dst []string, s string) []string {
	if s == "" {
		return dst
	}
	return append(dst, s)
}

// parseHTML extracts <dl> term/definition pairs and <details>/<summary> blocks,
// the two shapes FAQ pages are usually written in.
func parseHTML(r io.Reader) ([]engine.Pair, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("decoding html: %w", err)
	}

	var pairs []engine.Pair
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Dl:
				pairs = append(pairs, definitionPairs(n)...)
				return
			case atom.Details:
				if p, ok := detailsPair(n); ok {
					pairs = append(pairs, p)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return pairs, nil
}

func definitionPairs(dl *html.Node) []engine.Pair {
	var pairs []engine.Pair
	var question string
	var answers []string
	flush := func() {
		if question != "" && len(answers) > 0 {
			pairs = append(pairs, engine.Pair{Question: question, Answer: strings.Join(answers, "\n")})
		}
		question, answers = "", nil
	}
	for c := dl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Dt:
			flush()
			question = nodeText(c)
		case atom.Dd:
			if t := nodeText(c); t != "" {
				answers = append(answers, t)
			}
		}
	}
	flush()
	return pairs
}

func detailsPair(d *html.Node) (engine.Pair, bool) {
	var question string
	var answers []string
	for c := d.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Summary {
			question = nodeText(c)
			continue
		}
		if t := nodeText(c); t != "" {
			answers = append(answers, t)
		}
	}
	if question == "" || len(answers) == 0 {
		return engine.Pair{}, false
	}
	return engine.Pair{Question: question, Answer: strings.Join(answers, "\n")}, true
}

// nodeText returns the visible text under n with whitespace collapsed.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// parsePDF extracts the plain text of every page and parses it as Q:/A: text.
func parsePDF(data []byte) ([]engine.Pair, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding pdf: %w", err)
	}
	text, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extracting pdf text: %w", err)
	}
	return parseText(text)
}
