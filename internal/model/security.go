package model

import "time"

// SecurityInfo is mutable reference data for one security, upserted by SecurityID.
type SecurityInfo struct {
	SecurityID  string    `json:"code"`
	DisplayName string    `json:"name"`
	LotSize     int64     `json:"lot_size"`
	Category    string    `json:"stock_type"`
	SubCategory string    `json:"stock_child_type"`
	Owner       string    `json:"stock_owner"`
	ListingDate time.Time `json:"listing_date"`
	LastUpdated time.Time `json:"updated_at"`
}

// HasName reports whether a display name has been filled in.
func (s *SecurityInfo) HasName() bool { return s.DisplayName != "" }
