package config

import (
	"fmt"
	"os"
	"strings"

	"stock-analyzerv1/internal/markethours"

	"gopkg.in/yaml.v3"
)

// MarketConfig describes one market's session and reconciliation time.
type MarketConfig struct {
	Code        string   `yaml:"code"`
	Timezone    string   `yaml:"timezone"`
	Open        string   `yaml:"open"`
	Close       string   `yaml:"close"`
	ReconcileAt string   `yaml:"reconcile_at"` // local HH:MM, defaults to Close
	Holidays    []string `yaml:"holidays"`
}

type marketsFile struct {
	Markets []MarketConfig `yaml:"markets"`
}

// DefaultMarkets returns the built-in US and HK markets.
func DefaultMarkets() []MarketConfig {
	return []MarketConfig{
		{Code: "US", Timezone: "America/New_York", Open: "09:30", Close: "16:00", ReconcileAt: "16:00", Holidays: markethours.DefaultHolidays("US")},
		{Code: "HK", Timezone: "Asia/Hong_Kong", Open: "09:30", Close: "16:00", ReconcileAt: "16:00", Holidays: markethours.DefaultHolidays("HK")},
	}
}

// LoadMarkets reads the markets section of a YAML file. An empty path or a
// missing file yields DefaultMarkets.
func LoadMarkets(path string) ([]MarketConfig, error) {
	if path == "" {
		return DefaultMarkets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultMarkets(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f marketsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(f.Markets) == 0 {
		return DefaultMarkets(), nil
	}

	seen := make(map[string]bool, len(f.Markets))
	for i := range f.Markets {
		m := &f.Markets[i]
		m.Code = strings.ToUpper(strings.TrimSpace(m.Code))
		if m.Code == "" {
			return nil, fmt.Errorf("markets[%d]: code is required", i)
		}
		if seen[m.Code] {
			return nil, fmt.Errorf("markets[%d]: duplicate market %s", i, m.Code)
		}
		seen[m.Code] = true
		if m.Open == "" {
			m.Open = "09:30"
		}
		if m.Close == "" {
			m.Close = "16:00"
		}
		if m.ReconcileAt == "" {
			m.ReconcileAt = m.Close
		}
		if m.Holidays == nil {
			m.Holidays = markethours.DefaultHolidays(m.Code)
		}
	}
	return f.Markets, nil
}

// Session builds the market's trading session.
func (m MarketConfig) Session() (*markethours.Session, error) {
	return markethours.NewSession(m.Code, m.Timezone, m.Open, m.Close, m.Holidays)
}

// CronSpec returns the seconds-precision cron spec that fires at
// ReconcileAt local time on weekdays.
func (m MarketConfig) CronSpec() (string, error) {
	h, mm, err := markethours.ParseHM(m.ReconcileAt)
	if err != nil {
		return "", fmt.Errorf("market %s: reconcile_at: %w", m.Code, err)
	}
	return fmt.Sprintf("CRON_TZ=%s 0 %d %d * * 1-5", m.Timezone, mm, h), nil
}
