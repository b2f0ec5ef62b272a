package model

import (
	"fmt"
	"strings"
	"time"
)

// EventKind identifies the type of a feed event.
type EventKind int

const (
	EventQuote EventKind = iota + 1
	EventCandle
)

func (k EventKind) String() string {
	switch k {
	case EventQuote:
		return "quote"
	case EventCandle:
		return "candle"
	default:
		return "unknown"
	}
}

// ParseEventKind parses "quote" or "candle" (case-insensitive).
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quote":
		return EventQuote, nil
	case "candle":
		return EventCandle, nil
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is one inbound message from the quote feed.
// Quote events carry Price/TS; candle events carry Bar.
type Event struct {
	Kind       EventKind
	SecurityID string
	Price      float64
	TS         time.Time
	Bar        PriceBar
	ReceivedAt time.Time
}

// Time returns the event-time of the event.
func (e *Event) Time() time.Time {
	if e.Kind == EventCandle {
		return e.Bar.TS
	}
	return e.TS
}
