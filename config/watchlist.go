package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"stock-analyzerv1/internal/model"

	"gopkg.in/yaml.v3"
)

type watchlistFile struct {
	StocksToTrack []string `yaml:"stocks_to_track"`
}

// Watchlist is the persisted list of tracked securities. It is safe for
// concurrent use; OnChange hooks run after a successful Update.
type Watchlist struct {
	path string

	mu       sync.RWMutex
	codes    []string
	onChange []func(added, removed []string)
}

// LoadWatchlist reads path, falling back to seed when the file is missing
// or unreadable.
func LoadWatchlist(path string, seed []string) *Watchlist {
	w := &Watchlist{path: path, codes: dedupe(seed)}
	if path == "" {
		return w
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[watchlist] read %s: %v (using defaults)", path, err)
		}
		return w
	}
	var f watchlistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		log.Printf("[watchlist] parse %s: %v (using defaults)", path, err)
		return w
	}
	w.codes = dedupe(f.StocksToTrack)
	return w
}

// Codes returns a copy of the tracked list.
func (w *Watchlist) Codes() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.codes...)
}

// ForMarket returns the tracked codes of one market.
func (w *Watchlist) ForMarket(market string) []string {
	var out []string
	for _, c := range w.Codes() {
		if model.Market(c) == market {
			out = append(out, c)
		}
	}
	return out
}

// Contains reports whether code is tracked.
func (w *Watchlist) Contains(code string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, c := range w.codes {
		if c == code {
			return true
		}
	}
	return false
}

// OnChange registers a hook called with the codes added and removed by an Update.
func (w *Watchlist) OnChange(fn func(added, removed []string)) {
	w.mu.Lock()
	w.onChange = append(w.onChange, fn)
	w.mu.Unlock()
}

// Update replaces the tracked list and persists it. Every code must be in
// MARKET.CODE form. Returns (false, reason) on validation or write failure,
// leaving the current list untouched.
func (w *Watchlist) Update(codes []string) (bool, string) {
	next := dedupe(codes)
	for _, c := range next {
		if !model.ValidSecurityID(c) {
			return false, fmt.Sprintf("invalid security code %q (want MARKET.CODE)", c)
		}
	}

	w.mu.Lock()
	if err := w.save(next); err != nil {
		w.mu.Unlock()
		return false, fmt.Sprintf("failed to save watchlist: %v", err)
	}
	added, removed := diff(w.codes, next)
	w.codes = next
	hooks := append([]func(added, removed []string){}, w.onChange...)
	w.mu.Unlock()

	for _, fn := range hooks {
		fn(added, removed)
	}
	log.Printf("[watchlist] updated: %d codes (+%d -%d)", len(next), len(added), len(removed))
	return true, "watchlist updated"
}

func (w *Watchlist) save(codes []string) error {
	if w.path == "" {
		return nil
	}
	data, err := yaml.Marshal(watchlistFile{StocksToTrack: codes})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}

func dedupe(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func diff(prev, next []string) (added, removed []string) {
	in := func(list []string) map[string]bool {
		m := make(map[string]bool, len(list))
		for _, c := range list {
			m[c] = true
		}
		return m
	}
	p, n := in(prev), in(next)
	for _, c := range next {
		if !p[c] {
			added = append(added, c)
		}
	}
	for _, c := range prev {
		if !n[c] {
			removed = append(removed, c)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
