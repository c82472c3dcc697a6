package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	WebsiteID string `json:"websiteId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterWebsiteID string
	FilterStatus    string // empty = all statuses
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over content.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ContentRecord is the data we index for a content item.
type ContentRecord struct {
	ID        string `json:"id"`
	WebsiteID string `json:"websiteId"`
	Title     string `json:"title"`
	Excerpt   string `json:"excerpt"`
	Body      string `json:"body"`
	Status    string `json:"status"`
}
