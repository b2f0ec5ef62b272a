package model

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedUnavailable is a connection or auth failure against the market-data source.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrNotFound means no bars, info or cached state exists for the request.
	ErrNotFound = errors.New("data not found")
	// ErrTransient marks a timeout or dropped connection to the store or cache.
	ErrTransient = errors.New("transient store error")
	// ErrEmptyBars is returned by the indicator engine for an empty input.
	ErrEmptyBars = errors.New("empty bar sequence")
	// ErrInvalidSecurity is returned for ids not in MARKET.CODE form.
	ErrInvalidSecurity = errors.New("invalid security id")
)

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// FeedUnavailable wraps err so that errors.Is(err, ErrFeedUnavailable) holds.
func FeedUnavailable(err error) error {
	if err == nil || errors.Is(err, ErrFeedUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
}
