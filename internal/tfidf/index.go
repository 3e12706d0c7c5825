// Package tfidf builds a TF-IDF vector space over short texts and finds the
// single best match for a query by cosine similarity.
//
// An Index is immutable once built. Any change to the underlying documents
// requires a full Build, because vocabulary and IDF statistics are global.
package tfidf

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/kalambet/qabot/internal/textnorm"
)

// DefaultThreshold is the minimum cosine score reported as a match.
const DefaultThreshold = 0.3

// maxNGram is the longest n-gram indexed (unigrams and bigrams).
const maxNGram = 2

// ErrMalformedText is returned by Build when a document is not valid UTF-8.
var ErrMalformedText = errors.New("malformed text")

// Options configures index construction.
type Options struct {
	Normalize textnorm.Options
}

// Document is one indexed text with the identifier it is reported under.
type Document struct {
	ID   string
	Text string
}

// Entry is one non-zero component of a sparse vector.
type Entry struct {
	Col    int
	Weight float64
}

// Vector is a sparse vector with entries sorted by column.
type Vector []Entry

type posting struct {
	doc    int
	weight float64
}

// Index is a fitted TF-IDF model plus one L2-normalized vector per document.
// Vectors are aligned with the document order given to Build.
type Index struct {
	opts        Options
	norm        textnorm.Normalizer
	vocab       map[string]int
	terms       []string
	idf         []float64
	ids         []string
	vectors     []Vector
	postings    [][]posting
	fingerprint string
}

// Build fits a new index over docs. An empty docs slice yields an empty index.
func Build(docs []Document, opts Options) (*Index, error) {
	n := len(docs)
	x := &Index{
		opts:        opts,
		norm:        textnorm.New(opts.Normalize),
		ids:         make([]string, n),
		fingerprint: Fingerprint(docs, opts),
	}

	counts := make([]map[string]int, n)
	df := make(map[string]int)
	for i, d := range docs {
		if !utf8.ValidString(d.Text) {
			return nil, fmt.Errorf("%w: document %d (%s)", ErrMalformedText, i, d.ID)
		}
		x.ids[i] = d.ID
		counts[i] = termCounts(x.norm.Normalize(d.Text))
		for term := range counts[i] {
			df[term]++
		}
	}

	x.terms = make([]string, 0, len(df))
	for term := range df {
		x.terms = append(x.terms, term)
	}
	sort.Strings(x.terms)

	x.vocab = make(map[string]int, len(x.terms))
	x.idf = make([]float64, len(x.terms))
	for col, term := range x.terms {
		x.vocab[term] = col
		x.idf[col] = smoothIDF(n, df[term])
	}

	x.vectors = make([]Vector, n)
	for i, c := range counts {
		x.vectors[i] = x.weigh(c)
	}
	x.indexPostings()
	return x, nil
}

// smoothIDF is ln((1+n)/(1+df)) + 1, which never reaches zero so terms that
// occur in every document still contribute.
func smoothIDF(n, df int) float64 {
	return math.Log(float64(1+n)/float64(1+df)) + 1
}

// termCounts counts unigrams and bigrams of adjacent kept tokens.
func termCounts(normalized string) map[string]int {
	tokens := textnorm.Tokens(normalized)
	c := make(map[string]int, len(tokens)*maxNGram)
	for i, tok := range tokens {
		c[tok]++
		if i > 0 {
			c[tokens[i-1]+" "+tok]++
		}
	}
	return c
}

// weigh turns raw counts into an L2-normalized tf-idf vector. Terms outside
// the vocabulary are ignored.
func (x *Index) weigh(counts map[string]int) Vector {
	v := make(Vector, 0, len(counts))
	var sumSq float64
	for term, tf := range counts {
		col, ok := x.vocab[term]
		if !ok {
			continue
		}
		w := float64(tf) * x.idf[col]
		v = append(v, Entry{Col: col, Weight: w})
		sumSq += w * w
	}
	if sumSq == 0 {
		return nil
	}
	sort.Slice(v, func(i, j int) bool { return v[i].Col < v[j].Col })
	l2 := math.Sqrt(sumSq)
	for i := range v {
		v[i].Weight /= l2
	}
	return v
}

func (x *Index) indexPostings() {
	x.postings = make([][]posting, len(x.terms))
	for doc, v := range x.vectors {
		for _, e := range v {
			x.postings[e.Col] = append(x.postings[e.Col], posting{doc: doc, weight: e.Weight})
		}
	}
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.vectors)
}

// VocabularySize returns the number of distinct indexed terms.
func (x *Index) VocabularySize() int {
	if x == nil {
		return 0
	}
	return len(x.terms)
}

// Fingerprint identifies the exact documents and options the index was built from.
func (x *Index) Fingerprint() string {
	return x.fingerprint
}

// Options returns the options the index was built with.
func (x *Index) Options() Options {
	return x.opts
}

// ID returns the document ID at position i.
func (x *Index) ID(i int) string {
	return x.ids[i]
}

// Vector returns a copy of the document vector at position i.
func (x *Index) Vector(i int) Vector {
	return append(Vector(nil), x.vectors[i]...)
}

// Fingerprint hashes the normalization options and the ordered document
// IDs and texts. Two stores with the same fingerprint produce identical indexes.
func Fingerprint(docs []Document, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "tfidf/v%d fold=%t ngram=%d\n", formatVersion, opts.Normalize.FoldDiacritics, maxNGram)
	for _, d := range docs {
		h.Write([]byte(d.ID))
		h.Write([]byte{0})
		h.Write([]byte(d.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
