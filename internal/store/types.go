package store

import "time"

// Feed is a registered RSS source.
type Feed struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Category    string     `json:"category"`
	IsActive    bool       `json:"is_active"`
	LastFetched *time.Time `json:"last_fetched"`
}

// Article is one ingested feed entry. Articles are immutable after creation;
// there is no update path.
type Article struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	URL           string     `json:"url"`
	PublishedDate *time.Time `json:"published_date"`
	CreatedAt     time.Time  `json:"created_at"`
	FeedID        int64      `json:"feed_id"`
}
