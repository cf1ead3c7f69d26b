package quote

import (
	"sort"
	"time"
)

// HistoryAction identifies the kind of a history ledger entry.
type HistoryAction string

const (
	ActionCreated          HistoryAction = "created"
	ActionPDFUploaded      HistoryAction = "pdf_uploaded"
	ActionVersionUploaded  HistoryAction = "version_uploaded"
	ActionStatusChanged    HistoryAction = "status_changed"
	ActionAnnotated        HistoryAction = "annotated"
	ActionApproved         HistoryAction = "approved"
	ActionChangesRequested HistoryAction = "changes_requested"
	ActionCommented        HistoryAction = "commented"
	ActionAnnotationsSaved HistoryAction = "annotations_saved"
)

// HistoryEntry is one record of the append-only activity ledger. Entries are
// never modified or removed; Seq is assigned on append and breaks ties when
// several entries share a timestamp.
type HistoryEntry struct {
	Seq         int           `json:"seq"`
	Action      HistoryAction `json:"action"`
	Description string        `json:"description"`
	PerformedBy string        `json:"performedBy"`
	OldValue    any           `json:"oldValue"`
	NewValue    any           `json:"newValue"`
	Version     string        `json:"version,omitempty"`
	Metadata    any           `json:"metadata,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

func (q *Quotation) appendHistory(action HistoryAction, description, performedBy string, oldValue, newValue any, version string, metadata any, at time.Time) {
	seq := 1
	if n := len(q.History); n > 0 {
		seq = q.History[n-1].Seq + 1
	}
	q.History = append(q.History, HistoryEntry{
		Seq:         seq,
		Action:      action,
		Description: description,
		PerformedBy: performedBy,
		OldValue:    oldValue,
		NewValue:    newValue,
		Version:     version,
		Metadata:    metadata,
		Timestamp:   at,
	})
}

// HistoryDescending returns a copy of the ledger sorted newest-first, with
// the append sequence breaking timestamp ties.
func (q *Quotation) HistoryDescending() []HistoryEntry {
	out := make([]HistoryEntry, len(q.History))
	copy(out, q.History)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}
