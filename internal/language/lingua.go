// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package language

import (
	"context"
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LinguaProvider detects languages locally with lingua-go's statistical models,
// restricted to a fixed candidate set.
type LinguaProvider struct {
	detector lingua.LanguageDetector
}

// NewLinguaProvider builds a detector over the given ISO 639-1 codes. At least two
// recognizable codes are required.
func NewLinguaProvider(codes []string) (*LinguaProvider, error) {
	languages := make([]lingua.Language, 0, len(codes))
	seen := make(map[lingua.Language]struct{}, len(codes))
	for _, c := range codes {
		code, ok := Canonicalize(c)
		if !ok {
			continue
		}
		lang := lingua.GetLanguageFromIsoCode639_1(lingua.GetIsoCode639_1FromValue(strings.ToUpper(code)))
		if lang == lingua.Unknown {
			continue
		}
		if _, dup := seen[lang]; dup {
			continue
		}
		seen[lang] = struct{}{}
		languages = append(languages, lang)
	}
	if len(languages) < 2 {
		return nil, fmt.Errorf("language: lingua needs at least two known languages, got %d from %v", len(languages), codes)
	}
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(languages...).
		Build()
	return &LinguaProvider{detector: detector}, nil
}

// DetectLanguage returns the most likely language and its confidence.
func (p *LinguaProvider) DetectLanguage(ctx context.Context, text string) (DetectedLanguage, error) {
	if err := ctx.Err(); err != nil {
		return DetectedLanguage{}, err
	}
	values := p.detector.ComputeLanguageConfidenceValues(text)
	if len(values) == 0 || values[0].Value() <= 0 {
		return DetectedLanguage{}, ErrDetectionUnavailable
	}
	top := values[0]
	return DetectedLanguage{
		Code:       strings.ToLower(top.Language().IsoCode639_1().String()),
		Confidence: top.Value(),
	}, nil
}
