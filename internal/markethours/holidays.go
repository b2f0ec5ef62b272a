package markethours

// Default exchange holidays for 2026 (full-day closures only).
// Override per market with the holidays list in the markets config file.
var defaultHolidays = map[string][]string{
	"US": { // NYSE / Nasdaq
		"2026-01-01", // New Year's Day
		"2026-01-19", // Martin Luther King Jr. Day
		"2026-02-16", // Washington's Birthday
		"2026-04-03", // Good Friday
		"2026-05-25", // Memorial Day
		"2026-06-19", // Juneteenth
		"2026-07-03", // Independence Day (observed)
		"2026-09-07", // Labor Day
		"2026-11-26", // Thanksgiving
		"2026-12-25", // Christmas
	},
	"HK": { // HKEX
		"2026-01-01", // New Year's Day
		"2026-02-17", // Lunar New Year
		"2026-02-18", // Lunar New Year
		"2026-02-19", // Lunar New Year
		"2026-04-03", // Good Friday
		"2026-04-06", // Easter Monday
		"2026-04-07", // Ching Ming (observed, tentative)
		"2026-05-01", // Labour Day
		"2026-05-25", // Buddha's Birthday (observed, tentative)
		"2026-06-19", // Tuen Ng
		"2026-07-01", // HKSAR Establishment Day
		"2026-10-01", // National Day
		"2026-10-19", // Chung Yeung (observed, tentative)
		"2026-12-25", // Christmas
		"2026-12-26", // Boxing Day
	},
}

// DefaultHolidays returns the built-in holiday list for a market, or nil.
func DefaultHolidays(market string) []string {
	return append([]string(nil), defaultHolidays[market]...)
}

// Defaults returns the built-in US and HK sessions.
func Defaults() []*Session {
	us, _ := NewSession("US", "America/New_York", "09:30", "16:00", DefaultHolidays("US"))
	hk, _ := NewSession("HK", "Asia/Hong_Kong", "09:30", "16:00", DefaultHolidays("HK"))
	return []*Session{us, hk}
}
