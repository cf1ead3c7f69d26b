package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxQuotations = "quoteflow_quotations"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the quotations index.
// The service starts unhealthy if the initial connection fails; the health
// loop picks it up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxQuotations,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxQuotations, err)
	}

	index := m.client.Index(idxQuotations)
	filterable := []interface{}{"status", "createdBy", "onboardedBy"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxQuotations, err)
	}
	searchable := []string{"projectNumber", "documentNumber", "title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxQuotations, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the quotations index with visibility filters applied
// server-side.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}

	var filters []string
	switch q.Role {
	case "seller":
		filters = append(filters, fmt.Sprintf("createdBy = %q", q.UserID))
	case "buyer":
		filters = append(filters, fmt.Sprintf("onboardedBy = %q", q.UserID))
	}
	if q.Status != "" {
		filters = append(filters, fmt.Sprintf("status = %q", q.Status))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxQuotations).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:             decodeString(hit, "id"),
		ProjectNumber:  decodeString(hit, "projectNumber"),
		DocumentNumber: decodeString(hit, "documentNumber"),
		Title:          firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:        decodeFormattedString(hit, "documentNumber"),
		Status:         decodeString(hit, "status"),
		LatestVersion:  decodeString(hit, "latestVersion"),
		CreatedBy:      decodeString(hit, "createdBy"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexQuotation adds or updates a quotation in the search index.
func (m *Meili) IndexQuotation(rec QuotationRecord) error {
	_, err := m.client.Index(idxQuotations).AddDocuments([]QuotationRecord{rec}, nil)
	return err
}

// DeleteQuotation removes a quotation from the search index.
func (m *Meili) DeleteQuotation(id string) error {
	_, err := m.client.Index(idxQuotations).DeleteDocument(id, nil)
	return err
}

// IndexQuotations bulk-indexes quotations, used for full reindexing.
func (m *Meili) IndexQuotations(records []QuotationRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxQuotations).AddDocuments(records, nil)
	return err
}
