// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package classifier

import (
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/provider"
)

// Scorer parses classifier output and tracks the confidence distribution.
type Scorer struct {
	mu sync.RWMutex

	totalClassifications int
	confidenceSum        float64
	lowConfidenceCount   int // < 0.60
	highConfidenceCount  int // > 0.90
	malformedCount       int
}

// NewScorer creates a new Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Parse extracts intent and confidence from a model reply. Unknown intents or
// malformed replies normalize to intent.Unclassified and are counted as malformed.
func (s *Scorer) Parse(reply string) intent.Classified {
	res, ok := parseReply(reply)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalClassifications++
	if !ok {
		s.malformedCount++
		return intent.Unclassified
	}
	s.confidenceSum += res.Confidence
	if res.Confidence < 0.60 {
		s.lowConfidenceCount++
	} else if res.Confidence > 0.90 {
		s.highConfidenceCount++
	}
	return res
}

func parseReply(reply string) (intent.Classified, bool) {
	obj := provider.ExtractJSONObject(reply)
	if obj == "" || !gjson.Valid(obj) {
		return intent.Unclassified, false
	}
	parsed := gjson.Parse(obj)
	label := parsed.Get("intent")
	conf := parsed.Get("confidence")
	if !label.Exists() || !conf.Exists() || conf.Type != gjson.Number {
		return intent.Unclassified, false
	}
	in, ok := intent.Parse(strings.TrimSpace(label.String()))
	if !ok {
		return intent.Unclassified, false
	}
	c := conf.Float()
	if c < 0 || c > 1 {
		return intent.Unclassified, false
	}
	return intent.Classified{Intent: in, Confidence: c}, true
}

// GetMetrics returns confidence distribution metrics.
func (s *Scorer) GetMetrics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	avg := 0.0
	if parsed := s.totalClassifications - s.malformedCount; parsed > 0 {
		avg = s.confidenceSum / float64(parsed)
	}

	return map[string]interface{}{
		"total_classifications": s.totalClassifications,
		"average_confidence":    avg,
		"low_confidence_count":  s.lowConfidenceCount,
		"high_confidence_count": s.highConfidenceCount,
		"malformed_count":       s.malformedCount,
	}
}
