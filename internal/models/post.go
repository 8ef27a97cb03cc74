package models

import "time"

// Post is a single submission fetched from the post source. It is never
// mutated after fetching.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`

	Subreddit string `json:"subreddit,omitempty"`
	Author    string `json:"author,omitempty"`
	URL       string `json:"url,omitempty"`
	Flair     string `json:"flair,omitempty"`
	Score     int    `json:"score,omitempty"`
}

// Text is the title and body joined the way the judge sees them.
func (p Post) Text() string {
	if p.Body == "" {
		return p.Title
	}
	return p.Title + " " + p.Body
}
