// Package calendar implements connector.EconomicCalendarConnector
// against the Federal Reserve Economic Data (FRED) API, grounded on
// fred_calendar_collector.py's FREDCalendarCollector: it reads each
// series' most recent observation for the "previous" value, then
// projects the next release date(s) from the series' known
// publication pattern rather than from an events calendar FRED
// doesn't expose.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sawpanic/mdcollector/internal/collector"
	"github.com/sawpanic/mdcollector/internal/connector"
	"github.com/sawpanic/mdcollector/internal/domain"
	"github.com/sawpanic/mdcollector/internal/retry"
	"github.com/shopspring/decimal"
)

const sourceName = "economic_calendar"

// releaseRule describes how a FRED series' next publication date is
// projected, the Go equivalent of a SERIES_MAP entry's frequency/
// release_day_of_month/release_first_friday fields.
type releaseRule struct {
	SeriesID    string
	EventType   string
	Title       string
	Impact      string
	Frequency   string // monthly, quarterly
	ReleaseDay  int    // day-of-month for monthly series; 0 if first-Friday
	FirstFriday bool
}

var seriesMap = []releaseRule{
	{"CPIAUCSL", "cpi", "Consumer Price Index (CPI)", "high", "monthly", 12, false},
	{"PCE", "pce", "Personal Consumption Expenditures (PCE)", "high", "monthly", 28, false},
	{"PAYEMS", "nonfarm", "Non-Farm Payroll (NFP)", "high", "monthly", 0, true},
	{"UNRATE", "unemployment", "Unemployment Rate", "high", "monthly", 0, true},
	{"GDP", "gdp", "Gross Domestic Product (GDP)", "high", "quarterly", 30, false},
	{"RSXFS", "retail_sales", "Retail Sales", "medium", "monthly", 15, false},
	{"INDPRO", "industrial_production", "Industrial Production", "medium", "monthly", 17, false},
}

// Connector implements connector.EconomicCalendarConnector.
type Connector struct {
	apiKey       string
	http         *http.Client
	runner       *retry.Runner
	log          zerolog.Logger
	fomcMeetings []time.Time
}

// New builds a Connector. fomcMeetings is a maintained list of
// upcoming FOMC dates (sourced from the Fed's published schedule,
// same manual-list limitation fred_calendar_collector.py documents —
// FRED's API has no FOMC calendar endpoint).
func New(apiKey string, runner *retry.Runner, log zerolog.Logger, fomcMeetings []time.Time) *Connector {
	return &Connector{apiKey: apiKey, http: &http.Client{Timeout: 15 * time.Second}, runner: runner, log: log, fomcMeetings: fomcMeetings}
}

// FetchUpcomingEvents implements connector.EconomicCalendarConnector,
// projecting each tracked series' next release date(s) within window
// and attaching the most recent observed value as "previous".
func (c *Connector) FetchUpcomingEvents(ctx context.Context, window time.Duration) ([]domain.GlobalIndicator, error) {
	now := time.Now().UTC()
	var out []domain.GlobalIndicator

	for _, rule := range seriesMap {
		previous, err := c.latestObservation(ctx, rule.SeriesID)
		if err != nil {
			c.log.Warn().Err(err).Str("series_id", rule.SeriesID).Msg("fred observation fetch failed, projecting without previous value")
		}

		for _, releaseDate := range projectReleaseDates(rule, now, window) {
			title := rule.Title
			if rule.Frequency == "monthly" {
				dataMonth := releaseDate.AddDate(0, 0, -15)
				title = fmt.Sprintf("%s - %s", rule.Title, dataMonth.Format("January 2006"))
			} else if rule.Frequency == "quarterly" {
				title = fmt.Sprintf("%s - %s", rule.Title, quarterLabel(releaseDate))
			}

			out = append(out, domain.GlobalIndicator{
				Kind:  domain.IndicatorMacroEvent,
				Time:  releaseDate,
				Label: rule.EventType,
				Value: previous,
				Metadata: map[string]interface{}{
					"title":     title,
					"impact":    rule.Impact,
					"series_id": rule.SeriesID,
					"country":   "US",
				},
			})
		}
	}

	for _, meeting := range c.fomcMeetings {
		if meeting.After(now) && meeting.Before(now.Add(window)) {
			out = append(out, domain.GlobalIndicator{
				Kind:  domain.IndicatorMacroEvent,
				Time:  meeting,
				Label: "fed",
				Metadata: map[string]interface{}{
					"title":   "FOMC Meeting - Interest Rate Decision",
					"impact":  "high",
					"country": "US",
				},
			})
		}
	}

	return out, nil
}

// latestObservation fetches a series' most recent data point, the Go
// equivalent of _get_latest_observation.
func (c *Connector) latestObservation(ctx context.Context, seriesID string) (*decimal.Decimal, error) {
	url := fmt.Sprintf("https://api.stlouisfed.org/fred/series/observations?series_id=%s&api_key=%s&file_type=json&sort_order=desc&limit=1", seriesID, c.apiKey)

	var resp struct {
		Observations []struct {
			Value string `json:"value"`
		} `json:"observations"`
	}

	err := c.runner.Do(ctx, sourceName, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		httpResp, err := c.http.Do(req)
		if err != nil {
			return &collector.FetchError{Kind: collector.ClassifyError(err, 0), Source: sourceName, Err: err}
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			statusErr := fmt.Errorf("fred API returned status %d", httpResp.StatusCode)
			return &collector.FetchError{Kind: collector.ClassifyError(statusErr, httpResp.StatusCode), Source: sourceName, StatusCode: httpResp.StatusCode, Err: statusErr}
		}
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return &collector.FetchError{Kind: collector.ErrParse, Source: sourceName, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Observations) == 0 || resp.Observations[0].Value == "." {
		return nil, nil
	}

	v, err := decimal.NewFromString(resp.Observations[0].Value)
	if err != nil {
		return nil, nil
	}
	return &v, nil
}

// projectReleaseDates mirrors _predict_next_release_dates, walking
// month-by-month (or the four fixed quarterly anchors) and keeping
// only dates that fall strictly after now and within window.
func projectReleaseDates(rule releaseRule, now time.Time, window time.Duration) []time.Time {
	var dates []time.Time
	horizon := now.Add(window)

	switch {
	case rule.FirstFriday:
		for i := 0; i < 4; i++ {
			target := now.AddDate(0, i, 0)
			release := firstFridayOf(target.Year(), target.Month()).Add(8*time.Hour + 30*time.Minute)
			if release.After(now) && release.Before(horizon) {
				dates = append(dates, release)
			}
		}
	case rule.Frequency == "monthly":
		for i := 0; i < 4; i++ {
			target := now.AddDate(0, i, 0)
			lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
			day := rule.ReleaseDay
			if day > lastDay {
				day = lastDay
			}
			release := time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, time.UTC)
			if release.After(now) && release.Before(horizon) {
				dates = append(dates, release)
			}
		}
	case rule.Frequency == "quarterly":
		for _, anchor := range quarterlyAnchors(now.Year()) {
			if anchor.After(now) && anchor.Before(horizon) {
				dates = append(dates, anchor)
			}
		}
	}
	return dates
}

func firstFridayOf(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset)
}

func quarterlyAnchors(year int) []time.Time {
	return []time.Time{
		time.Date(year, time.February, 28, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.April, 30, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.July, 31, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.October, 31, 0, 0, 0, 0, time.UTC),
	}
}

func quarterLabel(releaseDate time.Time) string {
	quarter := (int(releaseDate.Month()) - 1) / 3
	year := releaseDate.Year()
	if quarter == 0 {
		quarter = 4
		year--
	}
	return fmt.Sprintf("Q%d %d", quarter, year)
}

var _ connector.EconomicCalendarConnector = (*Connector)(nil)
