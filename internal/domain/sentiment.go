package domain

import (
	"fmt"
	"strings"
)

// Sentiment is ordered from most negative to most positive.
type Sentiment int

const (
	VeryDissatisfied Sentiment = iota
	Dissatisfied
	SomewhatDissatisfied
	Neutral
	SomewhatSatisfied
	Satisfied
	VerySatisfied
)

// NegativeMidpoint is the most positive label still counted as negative.
const NegativeMidpoint = Dissatisfied

var sentimentLabels = [...]string{
	"very dissatisfied",
	"dissatisfied",
	"somewhat dissatisfied",
	"neutral",
	"somewhat satisfied",
	"satisfied",
	"very satisfied",
}

func (s Sentiment) String() string {
	if !s.Valid() {
		return fmt.Sprintf("sentiment(%d)", int(s))
	}
	return sentimentLabels[s]
}

func (s Sentiment) Valid() bool {
	return s >= VeryDissatisfied && s <= VerySatisfied
}

func (s Sentiment) IsNegative() bool {
	return s.Valid() && s <= NegativeMidpoint
}

// ParseSentiment accepts the canonical labels, case-insensitive, with either
// spaces, underscores or hyphens between words.
func ParseSentiment(raw string) (Sentiment, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	norm = strings.Join(strings.Fields(norm), " ")
	for i, label := range sentimentLabels {
		if label == norm {
			return Sentiment(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sentiment label %q", raw)
}

func (s Sentiment) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid sentiment %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Sentiment) UnmarshalText(text []byte) error {
	parsed, err := ParseSentiment(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
