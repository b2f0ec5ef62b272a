package model

import "time"

// RankedSecurity is one row of the ranked list.
type RankedSecurity struct {
	SecurityID           string    `json:"code"`
	Name                 string    `json:"name"`
	Price                float64   `json:"price"`
	Level                int       `json:"recommendation_level"`
	LevelText            string    `json:"recommendation_text"`
	MARelations          []string  `json:"ma_relations"`
	ClosestMA            string    `json:"closest_ma,omitempty"`
	ClosestMADistancePct Opt       `json:"closest_ma_distance_pct"`
	UpdatedAt            time.Time `json:"updated_at"`
}
