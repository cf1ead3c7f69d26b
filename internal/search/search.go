// Package search provides full-text search over quotations, backed by
// Meilisearch with a SQL fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID             string `json:"id"`
	ProjectNumber  string `json:"projectNumber"`
	DocumentNumber string `json:"documentNumber"`
	Title          string `json:"title"`
	Snippet        string `json:"snippet,omitempty"`
	Status         string `json:"status"`
	LatestVersion  string `json:"latestVersion,omitempty"`
	CreatedBy      string `json:"createdBy"`
}

// Query describes a search request. UserID and Role scope results to what
// the caller is allowed to see: sellers match quotations they created,
// buyers match quotations created by suppliers they onboarded.
type Query struct {
	Text   string
	UserID string
	Role   string
	Status string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// QuotationRecord is the data we index for a quotation.
type QuotationRecord struct {
	ID             string `json:"id"`
	ProjectNumber  string `json:"projectNumber"`
	DocumentNumber string `json:"documentNumber"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	LatestVersion  string `json:"latestVersion"`
	CreatedBy      string `json:"createdBy"`
	// OnboardedBy is the buyer who onboarded the creating supplier, used to
	// filter buyer-side searches.
	OnboardedBy string `json:"onboardedBy"`
}
