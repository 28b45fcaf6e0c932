// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package classifier

import (
	"context"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/switchAIDispatch/internal/intent"
)

// maxReflexConfidence caps keyword-only confidence so the cognitive tier can
// still be consulted with a high reflex-accept setting.
const maxReflexConfidence = 0.95

// LexiconEntry lists the keywords and regular expressions that signal an intent.
type LexiconEntry struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
}

// LexiconFile is the structure of the lexicon YAML file.
type LexiconFile struct {
	Intents []LexiconEntry `yaml:"intents"`
}

// DefaultLexicon is used when no lexicon file is configured.
var DefaultLexicon = []LexiconEntry{
	{
		Name: "Loyalty",
		Keywords: []string{
			"mileageplus", "miles", "mile", "loyalty", "status", "premier", "elite",
			"points", "award", "upgrade", "upgrades", "member", "membership", "tier",
			"pqp", "pqf", "redeem", "partner",
		},
	},
	{
		Name: "FAQ",
		Keywords: []string{
			"baggage", "bag", "bags", "luggage", "carry-on", "policy", "policies",
			"check-in", "checkin", "pet", "pets", "refund", "passport", "visa",
			"documents", "allowed", "fee", "fees", "liquids",
		},
	},
	{
		Name: "Recommendation",
		Keywords: []string{
			"recommend", "recommendation", "suggest", "book", "booking", "hotel",
			"hotels", "car rental", "rental", "trip", "vacation", "cheapest",
			"options", "destination", "itinerary",
		},
	},
	{
		Name: "FlightDetails",
		Keywords: []string{
			"meal", "food", "vegetarian", "vegan", "kosher", "halal", "wifi", "wi-fi",
			"internet", "seat", "seating", "legroom", "exit row", "aisle", "window",
			"entertainment", "movie", "screen", "usb", "charging", "outlet", "power",
			"aircraft", "amenities",
		},
		Patterns: []string{`\b(ua|united)\s?\d{1,4}\b`},
	},
	{
		Name: "FlightDisruption",
		Keywords: []string{
			"delay", "delayed", "cancel", "cancelled", "canceled", "cancellation",
			"missed", "connection", "rebook", "rebooking", "compensation",
			"disruption", "stuck", "stranded", "weather",
		},
	},
}

type compiledEntry struct {
	intent   intent.Intent
	keywords []string
	patterns []*regexp.Regexp
}

// Reflex scores text against a keyword lexicon. It never calls out and never fails.
type Reflex struct {
	mu      sync.RWMutex
	entries []compiledEntry

	classifyCount int64
	hitCount      int64
}

// NewReflex builds a reflex classifier over the given lexicon.
func NewReflex(lexicon []LexiconEntry) (*Reflex, error) {
	entries, err := compileLexicon(lexicon)
	if err != nil {
		return nil, err
	}
	return &Reflex{entries: entries}, nil
}

// LoadReflex reads a lexicon file. An empty path selects DefaultLexicon.
func LoadReflex(path string) (*Reflex, error) {
	if strings.TrimSpace(path) == "" {
		return NewReflex(DefaultLexicon)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon file: %w", err)
	}
	var file LexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon file: %w", err)
	}
	if len(file.Intents) == 0 {
		return nil, fmt.Errorf("no intents found in lexicon file")
	}
	log.Infof("Loading %d lexicon entries from %s", len(file.Intents), path)
	return NewReflex(file.Intents)
}

func compileLexicon(lexicon []LexiconEntry) ([]compiledEntry, error) {
	out := make([]compiledEntry, 0, len(lexicon))
	for _, e := range lexicon {
		in, ok := intent.Parse(e.Name)
		if !ok {
			return nil, fmt.Errorf("lexicon: unknown intent %q", e.Name)
		}
		ce := compiledEntry{intent: in}
		for _, kw := range e.Keywords {
			if norm := normalizeText(kw); norm != "" {
				ce.keywords = append(ce.keywords, norm)
			}
		}
		for _, p := range e.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("lexicon: intent %s: bad pattern %q: %w", e.Name, p, err)
			}
			ce.patterns = append(ce.patterns, re)
		}
		out = append(out, ce)
	}
	return out, nil
}

// normalizeText lowercases s and replaces every run of non-alphanumerics with a
// single space, so "Carry-on?" and "carry on" compare equal.
func normalizeText(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Classify implements Classifier.
func (r *Reflex) Classify(_ context.Context, text string) (intent.Classified, error) {
	res := r.score(text)

	r.mu.Lock()
	r.classifyCount++
	if res.Confidence > 0 {
		r.hitCount++
	}
	r.mu.Unlock()

	return res, nil
}

func (r *Reflex) score(text string) intent.Classified {
	padded := " " + normalizeText(text) + " "
	var hits [intent.Count]int

	r.mu.RLock()
	for _, e := range r.entries {
		for _, kw := range e.keywords {
			if strings.Contains(padded, " "+kw+" ") {
				hits[e.intent]++
			}
		}
		for _, re := range e.patterns {
			if re.MatchString(text) {
				hits[e.intent]++
			}
		}
	}
	r.mu.RUnlock()

	best, second := intent.General, -1
	bestHits := 0
	for i, h := range hits {
		switch {
		case h > bestHits:
			second = bestHits
			best, bestHits = intent.Intent(i), h
		case h > second:
			second = h
		}
	}
	if bestHits == 0 {
		return intent.Unclassified
	}
	if second < 0 {
		second = 0
	}
	return intent.Classified{Intent: best, Confidence: reflexConfidence(bestHits, second)}
}

// reflexConfidence grows with the number of hits for the winning intent and
// shrinks with the share of hits a runner-up also collected.
func reflexConfidence(best, second int) float64 {
	base := 1 - math.Pow(0.5, float64(best))
	margin := float64(best-second) / float64(best)
	return math.Min(maxReflexConfidence, base*(0.5+0.5*margin))
}

// GetMetrics returns reflex tier usage metrics.
func (r *Reflex) GetMetrics() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hitRate := 0.0
	if r.classifyCount > 0 {
		hitRate = float64(r.hitCount) / float64(r.classifyCount)
	}
	return map[string]interface{}{
		"classify_count": r.classifyCount,
		"hit_count":      r.hitCount,
		"hit_rate":       hitRate,
		"entry_count":    len(r.entries),
	}
}
