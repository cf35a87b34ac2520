package domain

import "time"

// Listing is one in-stock vehicle from the catalog feed. Never mutated after
// the fetch that produced it.
type Listing struct {
	Model     string `json:"model"`
	PriceText string `json:"price"`
	Link      string `json:"link"`
	ImageURL  string `json:"image_url"`
}

// CatalogSnapshot is an in-stock view of the feed at FetchedAt. Replaced as a
// whole, never modified in place.
type CatalogSnapshot struct {
	Listings  []Listing
	FetchedAt time.Time
}

// QueryResult is what the inventory tool hands back to a turn.
type QueryResult struct {
	Summary  string    `json:"summary"`
	Listings []Listing `json:"cars"`
}

// TurnResult is the outcome of one successful chat turn.
type TurnResult struct {
	Reply      string
	Listings   []Listing
	SessionID  string
	NewSession bool
	Takeover   bool // message recorded, assistant skipped
}

type Session struct {
	ID        string `db:"id" json:"id"`
	Takeover  bool   `db:"takeover" json:"takeover"`
	CreatedAt string `db:"created_at" json:"created_at"`
	UpdatedAt string `db:"updated_at" json:"updated_at"`
}

type ChatMessage struct {
	ID        string `db:"id" json:"id"`
	SessionID string `db:"session_id" json:"session_id"`
	Content   string `db:"content" json:"content"`
	IsUser    bool   `db:"is_user" json:"is_user"`
	CreatedAt string `db:"created_at" json:"created_at"`
}
