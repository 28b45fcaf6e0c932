// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package language detects the language of customer messages and produces a
// working-language copy for downstream classification.
//
// Detection never fails from the caller's point of view: when the underlying
// provider is unavailable, slow, unsure, or reports a language outside the
// supported set, the configured default language is returned with confidence 0.
package language

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	xlanguage "golang.org/x/text/language"

	"github.com/traylinx/switchAIDispatch/internal/util"
)

// ErrDetectionUnavailable is reported when no provider could determine a language.
var ErrDetectionUnavailable = errors.New("language detection unavailable")

// DetectedLanguage is a language code plus a confidence in [0,1].
type DetectedLanguage struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

// Provider performs the actual detection. Implementations may be remote.
type Provider interface {
	DetectLanguage(ctx context.Context, text string) (DetectedLanguage, error)
}

// Translator converts text between languages.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Config controls detection and translation.
type Config struct {
	// Default is returned when detection is unavailable or ambiguous.
	Default string
	// Working is the language downstream classifiers expect.
	Working string
	// Supported lists the accepted language codes. Empty accepts any.
	Supported []string
	// MinConfidence below which a detection is treated as ambiguous.
	MinConfidence    float64
	DetectTimeout    time.Duration
	TranslateTimeout time.Duration
}

// Prepared is the detector's output for one message.
type Prepared struct {
	Detected DetectedLanguage `json:"detected"`
	// WorkingText is the text in the working language, or the original text when
	// no translation was needed or translation failed.
	WorkingText string `json:"working_text"`
	Translated  bool   `json:"translated"`
	// DetectionErr and TranslationErr record the non-fatal failures, if any.
	DetectionErr   error `json:"-"`
	TranslationErr error `json:"-"`
}

// Detector wraps a Provider and an optional Translator with the never-fail policy.
type Detector struct {
	cfg        Config
	provider   Provider
	translator Translator
	supported  map[string]struct{}
}

// NewDetector builds a detector. provider and translator may be nil.
func NewDetector(cfg Config, provider Provider, translator Translator) *Detector {
	if code, ok := Canonicalize(cfg.Default); ok {
		cfg.Default = code
	} else {
		cfg.Default = "en"
	}
	if code, ok := Canonicalize(cfg.Working); ok {
		cfg.Working = code
	} else {
		cfg.Working = cfg.Default
	}
	supported := make(map[string]struct{}, len(cfg.Supported))
	for _, s := range cfg.Supported {
		if code, ok := Canonicalize(s); ok {
			supported[code] = struct{}{}
		}
	}
	if len(supported) > 0 {
		supported[cfg.Default] = struct{}{}
		supported[cfg.Working] = struct{}{}
	}
	return &Detector{cfg: cfg, provider: provider, translator: translator, supported: supported}
}

// Default returns the default language code.
func (d *Detector) Default() string { return d.cfg.Default }

// Working returns the working language code.
func (d *Detector) Working() string { return d.cfg.Working }

// Supports reports whether code is in the supported set.
func (d *Detector) Supports(code string) bool {
	if len(d.supported) == 0 {
		return true
	}
	_, ok := d.supported[code]
	return ok
}

// Detect returns the language of text. It never returns an error.
func (d *Detector) Detect(ctx context.Context, text string) DetectedLanguage {
	detected, _ := d.detect(ctx, text)
	return detected
}

func (d *Detector) fallback() DetectedLanguage {
	return DetectedLanguage{Code: d.cfg.Default, Confidence: 0}
}

func (d *Detector) detect(ctx context.Context, text string) (DetectedLanguage, error) {
	if d.provider == nil || strings.TrimSpace(text) == "" {
		return d.fallback(), ErrDetectionUnavailable
	}
	got, err := util.RunBounded(ctx, d.cfg.DetectTimeout, func(ctx context.Context) (DetectedLanguage, error) {
		return d.provider.DetectLanguage(ctx, text)
	})
	if err != nil {
		log.Warnf("language detection failed, using default %q: %v", d.cfg.Default, err)
		return d.fallback(), errors.Join(ErrDetectionUnavailable, err)
	}
	code, ok := Canonicalize(got.Code)
	if !ok {
		log.Debugf("language detection returned unusable code %q", got.Code)
		return d.fallback(), ErrDetectionUnavailable
	}
	if got.Confidence != got.Confidence || got.Confidence < d.cfg.MinConfidence || got.Confidence <= 0 {
		log.Debugf("language detection ambiguous (%s, %.2f), using default", code, got.Confidence)
		return d.fallback(), nil
	}
	if !d.Supports(code) {
		log.Debugf("language %q is not supported, using default", code)
		return d.fallback(), nil
	}
	if got.Confidence > 1 {
		got.Confidence = 1
	}
	return DetectedLanguage{Code: code, Confidence: got.Confidence}, nil
}

// Prepare detects the language and, when it differs from the working language,
// translates the text. The detected language is reported as detected even when
// translation fails.
func (d *Detector) Prepare(ctx context.Context, text string) Prepared {
	detected, detErr := d.detect(ctx, text)
	out := Prepared{Detected: detected, WorkingText: text, DetectionErr: detErr}

	if detected.Confidence == 0 || detected.Code == d.cfg.Working || d.translator == nil {
		return out
	}
	translated, err := util.RunBounded(ctx, d.cfg.TranslateTimeout, func(ctx context.Context) (string, error) {
		return d.translator.Translate(ctx, text, detected.Code, d.cfg.Working)
	})
	if err != nil || strings.TrimSpace(translated) == "" {
		if err == nil {
			err = errors.New("empty translation")
		}
		log.Warnf("translation %s->%s failed, passing original text through: %v", detected.Code, d.cfg.Working, err)
		out.TranslationErr = err
		return out
	}
	out.WorkingText = translated
	out.Translated = true
	return out
}

// Canonicalize maps a language tag such as "EN", "es-MX" or "pt_BR" to its
// lowercase ISO 639 base code.
func Canonicalize(code string) (string, bool) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return "", false
	}
	tag, err := xlanguage.Parse(code)
	if err != nil {
		return "", false
	}
	base, confidence := tag.Base()
	if confidence == xlanguage.No {
		return "", false
	}
	out := base.String()
	if out == "und" {
		return "", false
	}
	return out, true
}
