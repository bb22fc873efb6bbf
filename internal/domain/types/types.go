// Package types contains common types used across the application
package types

// Entry represents a leaderboard row
type Entry struct {
	Rank           int     `json:"rank"`
	EntityID       string  `json:"entity_id"`
	Rating         float64 `json:"rating"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	TotalDecisions int     `json:"total_decisions"`
}

// Stats summarizes the ranking state for display.
type Stats struct {
	TotalDecisions  int      `json:"total_decisions"`
	DecisionsToday  int      `json:"decisions_today"`
	JudgedEntities  int      `json:"judged_entities"`
	CatalogSize     int      `json:"catalog_size"`
	JudgedEntityIDs []string `json:"judged_entity_ids,omitempty"`
	QueueLength     int      `json:"queue_length"`
	ActiveSessions  int      `json:"active_sessions"`
	LiveClients     int      `json:"live_clients"`
}
