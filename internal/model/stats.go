package model

import "time"

// BarStats summarizes the stored bars of one security.
type BarStats struct {
	SecurityID string    `json:"code"`
	Count      int64     `json:"count"`
	MinClose   float64   `json:"min_price"`
	MaxClose   float64   `json:"max_price"`
	Earliest   time.Time `json:"earliest"`
	Latest     time.Time `json:"latest"`
}

// StoreStats summarizes the whole bar store.
type StoreStats struct {
	SecurityCount int       `json:"stock_count"`
	TotalRecords  int64     `json:"total_records"`
	Earliest      time.Time `json:"earliest_date"`
	Latest        time.Time `json:"latest_date"`
}
