package models

import "time"

// Item is a feed entry normalized by the fetcher. ExternalID is always set.
type Item struct {
	ExternalID  string
	Title       string
	Body        string
	Link        string
	Author      string
	ImageURL    string
	PublishedAt *time.Time
}
