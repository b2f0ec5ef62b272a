// Package markethours models per-market trading sessions: local open and
// close times, weekends and exchange holidays.
package markethours

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Session describes one market's regular trading day.
type Session struct {
	Market   string
	Location *time.Location

	OpenHour, OpenMinute   int
	CloseHour, CloseMinute int

	holidays map[string]bool
}

// NewSession builds a session from a market code, an IANA timezone,
// "HH:MM" open/close times and "YYYY-MM-DD" holidays.
func NewSession(market, tz, open, close string, holidays []string) (*Session, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("market %s: timezone %q: %w", market, tz, err)
	}
	oh, om, err := parseHM(open)
	if err != nil {
		return nil, fmt.Errorf("market %s: open: %w", market, err)
	}
	ch, cm, err := parseHM(close)
	if err != nil {
		return nil, fmt.Errorf("market %s: close: %w", market, err)
	}
	if ch*60+cm <= oh*60+om {
		return nil, fmt.Errorf("market %s: close %s not after open %s", market, close, open)
	}

	s := &Session{
		Market:      strings.ToUpper(market),
		Location:    loc,
		OpenHour:    oh,
		OpenMinute:  om,
		CloseHour:   ch,
		CloseMinute: cm,
		holidays:    make(map[string]bool, len(holidays)),
	}
	for _, h := range holidays {
		d, err := time.Parse(dateLayout, strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("market %s: holiday %q: %w", market, h, err)
		}
		s.holidays[d.Format(dateLayout)] = true
	}
	return s, nil
}

// ParseHM parses "HH:MM".
func ParseHM(v string) (hour, minute int, err error) { return parseHM(v) }

func parseHM(v string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	return t.Hour(), t.Minute(), nil
}

// IsHoliday returns true if t's local date is an exchange holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	return s.holidays[t.In(s.Location).Format(dateLayout)]
}

// IsTradingDay returns true if t's local date is a weekday and not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	local := t.In(s.Location)
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !s.IsHoliday(local)
}

// IsOpen returns true if t falls within regular trading hours.
func (s *Session) IsOpen(t time.Time) bool {
	if !s.IsTradingDay(t) {
		return false
	}
	local := t.In(s.Location)
	hm := local.Hour()*60 + local.Minute()
	return hm >= s.OpenHour*60+s.OpenMinute && hm < s.CloseHour*60+s.CloseMinute
}

// TodayOpen returns the open time on t's local date.
func (s *Session) TodayOpen(t time.Time) time.Time {
	l := t.In(s.Location)
	return time.Date(l.Year(), l.Month(), l.Day(), s.OpenHour, s.OpenMinute, 0, 0, s.Location)
}

// TodayClose returns the close time on t's local date.
func (s *Session) TodayClose(t time.Time) time.Time {
	l := t.In(s.Location)
	return time.Date(l.Year(), l.Month(), l.Day(), s.CloseHour, s.CloseMinute, 0, 0, s.Location)
}

// PrevTradingDay returns the local midnight of the trading day before t's date.
func (s *Session) PrevTradingDay(t time.Time) time.Time {
	l := t.In(s.Location)
	d := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, s.Location).AddDate(0, 0, -1)
	for i := 0; i < 15; i++ { // weekends plus multi-day holiday runs
		if s.IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// DayBucket returns the UTC-midnight timestamp of t's local trading date,
// the key daily bars are stored under.
func (s *Session) DayBucket(t time.Time) time.Time {
	l := t.In(s.Location)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

// ElapsedRange returns the date range reconciled after the session of t:
// from the previous trading day through t's date, as UTC day buckets.
func (s *Session) ElapsedRange(t time.Time) (start, end time.Time) {
	return s.DayBucket(s.PrevTradingDay(t)), s.DayBucket(t)
}

// StatusString returns a human-readable market status.
func (s *Session) StatusString(t time.Time) string {
	if s.IsOpen(t) {
		return fmt.Sprintf("%s open, closes in %s", s.Market, fmtDur(s.TodayClose(t).Sub(t)))
	}
	return fmt.Sprintf("%s closed", s.Market)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
