// Package lexical implements an in-memory, incrementally maintained Okapi
// BM25 index over record text.
//
// The index holds only live records. Callers add a record after its
// durable write commits and remove it when the record is archived.
package lexical

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Okapi BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Hit is one scored document.
type Hit struct {
	ID    int64   `json:"id"`
	Score float64 `json:"score"`
}

type document struct {
	terms  map[string]int
	length int
}

// Index is a concurrency-safe BM25 index keyed by record id.
type Index struct {
	mu       sync.RWMutex
	docs     map[int64]document
	postings map[string]map[int64]int
	totalLen int
	k1, b    float64
}

// New returns an empty index with the default parameters.
func New() *Index {
	return &Index{
		docs:     make(map[int64]document),
		postings: make(map[string]map[int64]int),
		k1:       DefaultK1,
		b:        DefaultB,
	}
}

// Add indexes text under id, replacing any previous entry.
func (ix *Index) Add(id int64, text string) {
	terms := termFreqs(Tokenize(text))

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)

	length := 0
	for term, tf := range terms {
		length += tf
		p := ix.postings[term]
		if p == nil {
			p = make(map[int64]int)
			ix.postings[term] = p
		}
		p[id] = tf
	}
	ix.docs[id] = document{terms: terms, length: length}
	ix.totalLen += length
}

// Remove drops id from the index. Unknown ids are ignored.
func (ix *Index) Remove(id int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) removeLocked(id int64) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	for term := range doc.terms {
		p := ix.postings[term]
		delete(p, id)
		if len(p) == 0 {
			delete(ix.postings, term)
		}
	}
	ix.totalLen -= doc.length
	delete(ix.docs, id)
}

// Rebuild replaces the whole index with docs.
func (ix *Index) Rebuild(docs map[int64]string) {
	fresh := New()
	for id, text := range docs {
		fresh.Add(id, text)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = fresh.docs
	ix.postings = fresh.postings
	ix.totalLen = fresh.totalLen
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Has reports whether id is indexed.
func (ix *Index) Has(id int64) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[id]
	return ok
}

// Search returns up to topK hits ordered by score descending, then id
// ascending. An empty or stop-word-only query yields an empty slice.
// topK <= 0 returns every matching document.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	n := len(ix.docs)
	if n == 0 {
		ix.mu.RUnlock()
		return []Hit{}, nil
	}
	avgLen := float64(ix.totalLen) / float64(n)
	scores := make(map[int64]float64)
	for _, term := range terms {
		p := ix.postings[term]
		if len(p) == 0 {
			continue
		}
		idf := IDF(n, len(p))
		for id, tf := range p {
			dl := float64(ix.docs[id].length)
			f := float64(tf)
			scores[id] += idf * (f * (ix.k1 + 1)) / (f + ix.k1*(1-ix.b+ix.b*dl/avgLen))
		}
	}
	ix.mu.RUnlock()

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{ID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// IDF is the BM25 inverse document frequency with +1 smoothing so it is
// never negative.
func IDF(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

// ─── Tokenization ────────────────────────────────────────────────────────────

// MinTokenLength is the shortest token kept by Tokenize.
const MinTokenLength = 2

// Tokenize lowercases text, splits on anything that is not a letter or
// digit, and drops stop words and tokens shorter than MinTokenLength.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < MinTokenLength || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// IsStopWord reports whether w is ignored by the tokenizer.
func IsStopWord(w string) bool {
	return stopWords[strings.ToLower(w)]
}

func termFreqs(tokens []string) map[string]int {
	m := make(map[string]int, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

var stopWords = func() map[string]bool {
	words := `a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during each
		few for from further had has have having he her here hers him his how i if in into
		is it its itself just me more most my no nor not now of off on once only or other
		our ours out over own same she should so some such than that the their theirs them
		then there these they this those through to too under until up very was we were
		what when where which while who whom why will with would you your yours`
	m := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		m[w] = true
	}
	return m
}()
