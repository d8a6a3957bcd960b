package domain

import "time"

// Market is a prediction market as resolved from the ontology bundle.
type Market struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Slug     string    `json:"slug"`
	EndDate  time.Time `json:"end_date"`
	Active   bool      `json:"active"`
	Closed   bool      `json:"closed"`
	Outcomes []Outcome `json:"outcomes"`
}

// Outcome is one tradeable side of a market. FallbackProbability is the
// prior carried in the market metadata, used when book and trade signals
// are missing or unreliable.
type Outcome struct {
	ID                  string  `json:"id"`
	MarketID            string  `json:"market_id"`
	Label               string  `json:"label"`
	FallbackProbability float64 `json:"fallback_probability"`
}

// HoursToResolution returns the hours until the market resolves,
// or 0 if EndDate is unset or already past.
func (m Market) HoursToResolution(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	h := m.EndDate.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// OutcomeByID returns the outcome with the given id, if present.
func (m Market) OutcomeByID(id string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}
