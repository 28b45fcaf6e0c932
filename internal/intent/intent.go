// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package intent defines the closed set of customer intents the dispatcher can route.
package intent

import (
	"fmt"
	"strings"
)

// Intent is one of a fixed enumeration of customer intents.
// The zero value is General, the catch-all.
type Intent int

const (
	General Intent = iota
	Loyalty
	FAQ
	Recommendation
	FlightDetails
	FlightDisruption

	// Count is the number of intents. Arrays indexed by Intent use it as their length.
	Count int = iota
)

var names = [Count]string{
	General:          "General",
	Loyalty:          "Loyalty",
	FAQ:              "FAQ",
	Recommendation:   "Recommendation",
	FlightDetails:    "FlightDetails",
	FlightDisruption: "FlightDisruption",
}

// aliases maps normalized free-form labels to intents. Keys are lowercase with
// separators removed.
var aliases = map[string]Intent{
	"general":          General,
	"other":            General,
	"chat":             General,
	"smalltalk":        General,
	"unknown":          General,
	"loyalty":          Loyalty,
	"loyaltyprogram":   Loyalty,
	"mileageplus":      Loyalty,
	"miles":            Loyalty,
	"faq":              FAQ,
	"faqs":             FAQ,
	"policy":           FAQ,
	"recommendation":   Recommendation,
	"recommendations":  Recommendation,
	"booking":          Recommendation,
	"flightdetails":    FlightDetails,
	"flightdetail":     FlightDetails,
	"flightinfo":       FlightDetails,
	"flightdisruption": FlightDisruption,
	"disruption":       FlightDisruption,
	"delay":            FlightDisruption,
	"cancellation":     FlightDisruption,
}

// All returns every intent in declaration order.
func All() []Intent {
	out := make([]Intent, Count)
	for i := range out {
		out[i] = Intent(i)
	}
	return out
}

// Valid reports whether i is a member of the enumeration.
func (i Intent) Valid() bool {
	return i >= 0 && int(i) < Count
}

func (i Intent) String() string {
	if !i.Valid() {
		return fmt.Sprintf("Intent(%d)", int(i))
	}
	return names[i]
}

// MarshalText encodes the intent by name.
func (i Intent) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("intent: invalid value %d", int(i))
	}
	return []byte(names[i]), nil
}

// UnmarshalText accepts any label Parse accepts.
func (i *Intent) UnmarshalText(text []byte) error {
	parsed, ok := Parse(string(text))
	if !ok {
		return fmt.Errorf("intent: unknown label %q", string(text))
	}
	*i = parsed
	return nil
}

// Parse maps a label such as "FlightDetails", "flight_details" or "flight-details"
// to an intent. Unknown labels return General and false.
func Parse(label string) (Intent, bool) {
	key := normalizeLabel(label)
	if key == "" {
		return General, false
	}
	if in, ok := aliases[key]; ok {
		return in, true
	}
	return General, false
}

func normalizeLabel(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch r {
		case ' ', '_', '-', '.', '/':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Classified is a classification result: an intent and its confidence in [0,1].
type Classified struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Unclassified is the normalized result for unknown or malformed classifier output.
var Unclassified = Classified{Intent: General, Confidence: 0}

// Normalize clamps the confidence into [0,1] and replaces invalid intents
// (and NaN confidences) with Unclassified.
func (c Classified) Normalize() Classified {
	if !c.Intent.Valid() || c.Confidence != c.Confidence {
		return Unclassified
	}
	switch {
	case c.Confidence < 0:
		c.Confidence = 0
	case c.Confidence > 1:
		c.Confidence = 1
	}
	return c
}

// Below reports whether the confidence is under threshold.
func (c Classified) Below(threshold float64) bool {
	return c.Confidence < threshold
}
