package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// Request describes one historical replay.
type Request struct {
	RunID          string   `json:"run_id,omitempty"`
	Code           string   `json:"code"`
	Exchange       string   `json:"exchange"`
	Symbol         string   `json:"symbol"`
	Timeframe      string   `json:"timeframe"`
	InitialBalance float64  `json:"initial_balance"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	FeeRate        *float64 `json:"fee_rate,omitempty"`
	APIKey         string   `json:"api_key,omitempty"`
	APISecret      string   `json:"api_secret,omitempty"`
	Testnet        bool     `json:"testnet"`

	start, end time.Time
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts ISO 8601 dates with or without a time and zone. Dates
// without a zone are UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO 8601 date", s)
}

func (r *Request) normalize() error {
	r.RunID = strings.TrimSpace(r.RunID)
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.Exchange = strings.ToLower(strings.TrimSpace(r.Exchange))
	if r.Exchange == "" {
		r.Exchange = "binance"
	}
	r.Timeframe = strings.TrimSpace(r.Timeframe)

	var problems []string
	if strings.TrimSpace(r.Code) == "" {
		problems = append(problems, "code is required")
	}
	if r.Symbol == "" {
		problems = append(problems, "symbol is required")
	}
	if r.Timeframe == "" {
		problems = append(problems, "timeframe is required")
	}
	if !(r.InitialBalance > 0) {
		problems = append(problems, "initial_balance must be > 0")
	}
	if r.FeeRate != nil && *r.FeeRate < 0 {
		problems = append(problems, "fee_rate must be >= 0")
	}
	var err error
	if r.start, err = ParseDate(r.StartDate); err != nil {
		problems = append(problems, "start_date: "+err.Error())
	}
	if r.end, err = ParseDate(r.EndDate); err != nil {
		problems = append(problems, "end_date: "+err.Error())
	}
	if !r.start.IsZero() && !r.end.IsZero() && !r.end.After(r.start) {
		problems = append(problems, "end_date must be after start_date")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

func (r *Request) credentials() domain.Credentials {
	return domain.Credentials{APIKey: r.APIKey, APISecret: r.APISecret, Testnet: r.Testnet}
}
