// Package router estimates query complexity and picks a retrieval
// strategy for it.
package router

import (
	"strings"

	"github.com/HendryAvila/warden/internal/lexical"
)

// Complexity is the estimated query class.
type Complexity string

const (
	Simple  Complexity = "SIMPLE"
	Medium  Complexity = "MEDIUM"
	Complex Complexity = "COMPLEX"
)

// Classification is the classifier verdict.
type Classification struct {
	Complexity Complexity `json:"complexity"`
	Confidence float64    `json:"confidence"`
	// Fallback is set when confidence was below the threshold and the
	// verdict was forced to Medium.
	Fallback bool `json:"fallback,omitempty"`
}

var overviewCues = []string{
	"overview", "summary", "summarize", "summarise", "big picture", "high-level",
	"high level", "in general", "themes", "topics", "architecture", "what do we know",
	"main areas", "landscape",
}

var multiHopCues = []string{
	"why", "led to", "lead to", "leads to", "caused", "because", "consequence",
	"impact", "depends on", "dependency", "chain", "history of", "evolve", "evolved",
	"trace", "relationship", "related to", "before we", "after we", "instead of",
	"superseded", "replaced",
}

// Classify scores the query against overview, lookup and multi-hop cues.
// Confidence is the winning score's share of the total. Below threshold
// the verdict falls back to Medium.
func Classify(query string, threshold float64) Classification {
	q := " " + strings.ToLower(strings.Join(strings.Fields(query), " ")) + " "
	tokens := lexical.Tokenize(query)

	simple, medium, complex := 0.0, 0.5, 0.0

	for _, cue := range overviewCues {
		if strings.Contains(q, " "+cue) {
			simple += 0.5
		}
	}
	if len(tokens) > 0 && len(tokens) <= 2 {
		simple += 0.3
	}

	for _, cue := range multiHopCues {
		if strings.Contains(q, " "+cue+" ") {
			complex += 0.4
		}
	}
	if len(tokens) > 12 {
		complex += 0.3
	}
	if strings.Count(q, "?") > 1 {
		complex += 0.2
	}

	if strings.ContainsAny(query, "/\\`\"") || strings.Contains(query, "_") || strings.Contains(query, ".go") {
		medium += 0.3
	}

	total := simple + medium + complex
	verdict, best := Medium, medium
	if simple > best {
		verdict, best = Simple, simple
	}
	if complex > best {
		verdict, best = Complex, complex
	}
	conf := best / total

	if conf < threshold {
		return Classification{Complexity: Medium, Confidence: conf, Fallback: true}
	}
	return Classification{Complexity: verdict, Confidence: conf}
}
