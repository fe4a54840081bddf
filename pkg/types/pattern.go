package types

import "time"

// QueryPattern aggregates historical entries that share a normalized
// signature. It is rebuilt on every analysis run.
type QueryPattern struct {
	Signature string

	// Example is the query text of the most accessed member entry
	Example string

	// Frequency is the summed access count of member entries
	Frequency int64

	LastSeen time.Time

	// HourHistogram counts timestamps per hour of day
	HourHistogram [24]int

	// DayHistogram counts timestamps per weekday, Sunday first
	DayHistogram [7]int

	// Users holds the distinct user ids that produced the signature
	Users map[string]struct{}
}

// NewQueryPattern creates a pattern with an initialized user set.
func NewQueryPattern(signature string) *QueryPattern {
	return &QueryPattern{
		Signature: signature,
		Users:     make(map[string]struct{}),
	}
}

// UserCount returns the number of distinct users.
func (p *QueryPattern) UserCount() int {
	return len(p.Users)
}

// HasUser reports whether userID produced this pattern.
func (p *QueryPattern) HasUser(userID string) bool {
	if userID == "" {
		return false
	}
	_, ok := p.Users[userID]
	return ok
}

// Prediction is one forecast query from a single analysis cycle.
type Prediction struct {
	Signature      string
	Query          string
	Probability    float64
	Reason         string
	SuggestedTier  Tier
	EstimatedValue float64
}
