// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/traylinx/switchAIDispatch/internal/intent"
	"github.com/traylinx/switchAIDispatch/internal/provider"
)

var intentDescriptions = map[intent.Intent]string{
	intent.Loyalty:          "MileagePlus / loyalty program: miles, status tiers, upgrades, award travel, partner earning",
	intent.FAQ:              "general airline policies: baggage, check-in, seating rules, pets, refunds, travel documents",
	intent.Recommendation:   "finding or booking flights, hotels or car rentals for a trip",
	intent.FlightDetails:    "amenities of a specific flight: aircraft, seats, wifi, meals, power, entertainment",
	intent.FlightDisruption: "delays, cancellations, missed connections, rebooking and compensation",
	intent.General:          "greetings, small talk or anything else",
}

func cognitivePrompt() string {
	var b strings.Builder
	b.WriteString("You are an intent classifier for an airline customer assistant.\n")
	b.WriteString("Choose exactly one intent for the customer's message:\n")
	for _, in := range intent.All() {
		fmt.Fprintf(&b, "- %s: %s\n", in, intentDescriptions[in])
	}
	b.WriteString(`Reply with a single JSON object: {"intent": "<one of the names above>", "confidence": <0.0-1.0>}.`)
	return b.String()
}

// Cognitive classifies with an LLM.
type Cognitive struct {
	client provider.Completer
	scorer *Scorer
	prompt string
}

// NewCognitive wraps a completion client. scorer may be nil.
func NewCognitive(client provider.Completer, scorer *Scorer) *Cognitive {
	if scorer == nil {
		scorer = NewScorer()
	}
	return &Cognitive{client: client, scorer: scorer, prompt: cognitivePrompt()}
}

// Scorer returns the scorer tracking this tier's output.
func (c *Cognitive) Scorer() *Scorer { return c.scorer }

// Classify implements Classifier. Transport errors are returned; malformed or
// unknown replies yield intent.Unclassified without error.
func (c *Cognitive) Classify(ctx context.Context, text string) (intent.Classified, error) {
	reply, err := provider.Ask(ctx, c.client, c.prompt, text)
	if err != nil {
		return intent.Unclassified, fmt.Errorf("classifier: cognitive tier: %w", err)
	}
	return c.scorer.Parse(reply), nil
}
