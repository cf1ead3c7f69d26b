package quote

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testBase = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func testQuotation(t *testing.T) *Quotation {
	t.Helper()
	first := Version{
		Version:    FirstVersion,
		PDFURL:     "/uploads/q-1-rev-a.pdf",
		UploadedBy: "user_seller",
		UploadedAt: testBase,
	}
	return New("q_1", "PRJ-100", "DOC-100", "Pump skid quotation", first, "user_seller", testBase)
}

func TestNextVersion(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		want     string
	}{
		{"no versions", nil, "REV.A"},
		{"first increment", []string{"REV.A"}, "REV.B"},
		{"mid alphabet", []string{"REV.A", "REV.M"}, "REV.N"},
		{"last letter", []string{"REV.Y"}, "REV.Z"},
		{"overflow", []string{"REV.Z"}, "REV.Z1"},
		{"after overflow wraps to start", []string{"REV.Z1"}, "REV.A"},
		{"unparseable label", []string{"draft-3"}, "REV.A"},
		{"lowercase not accepted", []string{"rev.b"}, "REV.A"},
		{"two letters not accepted", []string{"REV.AB"}, "REV.A"},
		{"trailing text not accepted", []string{"REV.B final"}, "REV.A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &Quotation{}
			for _, v := range tt.versions {
				q.Versions = append(q.Versions, Version{Version: v})
			}
			if got := q.NextVersion(); got != tt.want {
				t.Errorf("NextVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewQuotation(t *testing.T) {
	q := testQuotation(t)

	if q.Status != StatusSubmitted {
		t.Errorf("status = %q, want %q", q.Status, StatusSubmitted)
	}
	if q.CurrentVersion != "REV.A" {
		t.Errorf("currentVersion = %q, want REV.A", q.CurrentVersion)
	}
	if len(q.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(q.History))
	}
	entry := q.History[0]
	if entry.Action != ActionCreated {
		t.Errorf("action = %q, want %q", entry.Action, ActionCreated)
	}
	if entry.Description != "Quotation created with version REV.A" {
		t.Errorf("description = %q", entry.Description)
	}
	if entry.Seq != 1 {
		t.Errorf("seq = %d, want 1", entry.Seq)
	}
	if entry.Version != "REV.A" {
		t.Errorf("entry version = %q, want REV.A", entry.Version)
	}
}

func TestAddVersion(t *testing.T) {
	q := testQuotation(t)
	if _, err := q.Annotate("needs work", nil, false, "user_buyer", testBase.Add(time.Hour)); err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	next := q.NextVersion()
	err := q.AddVersion(Version{
		Version:    next,
		PDFURL:     "/uploads/q-1-rev-b.pdf",
		UploadedBy: "user_seller",
		UploadedAt: testBase.Add(2 * time.Hour),
	}, "user_seller", testBase.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("AddVersion: %v", err)
	}

	if q.CurrentVersion != "REV.B" {
		t.Errorf("currentVersion = %q, want REV.B", q.CurrentVersion)
	}
	if q.Status != StatusSubmitted {
		t.Errorf("status = %q, want %q", q.Status, StatusSubmitted)
	}
	if got := q.Latest().Version; got != q.CurrentVersion {
		t.Errorf("latest version %q != currentVersion %q", got, q.CurrentVersion)
	}

	last := q.History[len(q.History)-1]
	if last.Action != ActionStatusChanged {
		t.Errorf("last action = %q, want %q", last.Action, ActionStatusChanged)
	}
	if last.Description != "Status changed from Under Review to Submitted" {
		t.Errorf("description = %q", last.Description)
	}
	uploaded := q.History[len(q.History)-2]
	if uploaded.Action != ActionVersionUploaded {
		t.Errorf("action = %q, want %q", uploaded.Action, ActionVersionUploaded)
	}
	if uploaded.Description != "New version REV.B uploaded" {
		t.Errorf("description = %q", uploaded.Description)
	}
}

func TestAddVersionFromSubmittedSkipsStatusEntry(t *testing.T) {
	q := testQuotation(t)
	before := len(q.History)

	err := q.AddVersion(Version{Version: q.NextVersion(), UploadedBy: "user_seller"}, "user_seller", testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("AddVersion: %v", err)
	}
	if len(q.History) != before+1 {
		t.Errorf("history grew by %d entries, want 1 (no status change from Submitted)", len(q.History)-before)
	}
}

func TestAddVersionRejectedWhenApproved(t *testing.T) {
	q := testQuotation(t)
	q.Approve("user_buyer", testBase.Add(time.Hour))

	err := q.AddVersion(Version{Version: "REV.B"}, "user_seller", testBase.Add(2*time.Hour))
	if !errors.Is(err, ErrApproved) {
		t.Errorf("err = %v, want ErrApproved", err)
	}
	if q.CurrentVersion != "REV.A" {
		t.Errorf("currentVersion mutated to %q on rejected upload", q.CurrentVersion)
	}
}

func TestAnnotateAddsCommentAndTransitions(t *testing.T) {
	q := testQuotation(t)
	now := testBase.Add(time.Hour)

	res, err := q.Annotate("  price seems high  ", nil, false, "user_buyer", now)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if !res.CommentAdded || !res.StatusChanged || res.AnnotationsSaved {
		t.Errorf("result = %+v", res)
	}
	if q.Status != StatusUnderReview {
		t.Errorf("status = %q, want %q", q.Status, StatusUnderReview)
	}

	latest := q.Latest()
	if len(latest.Comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(latest.Comments))
	}
	c := latest.Comments[0]
	if c.Text != "price seems high" {
		t.Errorf("comment text = %q, want trimmed", c.Text)
	}
	if c.AddedBy != "user_buyer" || !c.AddedAt.Equal(now) {
		t.Errorf("comment attribution = %q/%v", c.AddedBy, c.AddedAt)
	}
	if latest.ReviewedBy != "user_buyer" {
		t.Errorf("reviewedBy = %q, want user_buyer", latest.ReviewedBy)
	}

	commented := q.History[len(q.History)-2]
	if commented.Action != ActionCommented {
		t.Errorf("action = %q, want %q", commented.Action, ActionCommented)
	}
	if commented.Description != "Comment added: price seems high" {
		t.Errorf("description = %q", commented.Description)
	}
	statusEntry := q.History[len(q.History)-1]
	if statusEntry.Description != "Status changed from Submitted to Under Review" {
		t.Errorf("description = %q", statusEntry.Description)
	}
}

func TestAnnotateEmptyCommentIsDropped(t *testing.T) {
	q := testQuotation(t)

	res, err := q.Annotate("   ", nil, false, "user_buyer", testBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if res.CommentAdded {
		t.Error("whitespace-only comment was added")
	}
	if len(q.Latest().Comments) != 0 {
		t.Errorf("comments = %d, want 0", len(q.Latest().Comments))
	}
	// The review pass itself still moves the status forward.
	if q.Status != StatusUnderReview {
		t.Errorf("status = %q, want %q", q.Status, StatusUnderReview)
	}
}

func TestAnnotateLongCommentDescriptionTruncated(t *testing.T) {
	q := testQuotation(t)
	long := strings.Repeat("x", 150)

	if _, err := q.Annotate(long, nil, false, "user_buyer", testBase.Add(time.Hour)); err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	var entry HistoryEntry
	for _, e := range q.History {
		if e.Action == ActionCommented {
			entry = e
		}
	}
	want := "Comment added: " + strings.Repeat("x", 100) + "..."
	if entry.Description != want {
		t.Errorf("description = %q, want truncated to 100 chars", entry.Description)
	}
	if got := q.Latest().Comments[0].Text; got != long {
		t.Error("stored comment text must not be truncated")
	}
}

func TestAnnotateReplacesAnnotations(t *testing.T) {
	q := testQuotation(t)
	now := testBase.Add(time.Hour)

	anns := []any{
		map[string]any{"type": "highlight", "page": "2", "x": "10.5", "y": 20.0},
		map[string]any{"type": "note", "text": "check this"},
	}
	res, err := q.Annotate("", anns, true, "user_buyer", now)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if !res.AnnotationsSaved {
		t.Error("expected AnnotationsSaved")
	}

	latest := q.Latest()
	if len(latest.Annotations) != 2 {
		t.Fatalf("annotations = %d, want 2", len(latest.Annotations))
	}
	if latest.Annotations[0]["page"] != float64(2) {
		t.Errorf("page = %v (%T), want 2", latest.Annotations[0]["page"], latest.Annotations[0]["page"])
	}
	if latest.Annotations[0]["x"] != float64(10.5) {
		t.Errorf("x = %v, want 10.5", latest.Annotations[0]["x"])
	}
	if latest.Annotations[1]["page"] != float64(1) {
		t.Errorf("missing page defaulted to %v, want 1", latest.Annotations[1]["page"])
	}

	var saved HistoryEntry
	for _, e := range q.History {
		if e.Action == ActionAnnotationsSaved {
			saved = e
		}
	}
	if saved.Description != "2 annotation(s) saved" {
		t.Errorf("description = %q", saved.Description)
	}
	meta, ok := saved.Metadata.(map[string]any)
	if !ok || meta["annotationCount"] != 2 {
		t.Errorf("metadata = %v", saved.Metadata)
	}

	// Saving the identical set again records nothing.
	before := len(q.History)
	res, err = q.Annotate("", latest.Annotations, true, "user_buyer", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if res.AnnotationsSaved || len(q.History) != before {
		t.Error("unchanged annotation set produced a history entry")
	}
}

func TestAnnotateRejectedWhenApproved(t *testing.T) {
	q := testQuotation(t)
	q.Approve("user_buyer", testBase.Add(time.Hour))

	if _, err := q.Annotate("late comment", nil, false, "user_buyer", testBase.Add(2*time.Hour)); !errors.Is(err, ErrApproved) {
		t.Errorf("err = %v, want ErrApproved", err)
	}
}

func TestRequestChanges(t *testing.T) {
	q := testQuotation(t)

	if err := q.RequestChanges("user_buyer", testBase.Add(time.Hour)); err != nil {
		t.Fatalf("RequestChanges: %v", err)
	}
	if q.Status != StatusChangesRequested {
		t.Errorf("status = %q, want %q", q.Status, StatusChangesRequested)
	}
	last := q.History[len(q.History)-1]
	if last.Action != ActionChangesRequested || last.Description != "Changes requested for quotation" {
		t.Errorf("entry = %+v", last)
	}
	if last.Version != "REV.A" {
		t.Errorf("entry version = %q, want current version", last.Version)
	}

	q.Approve("user_buyer", testBase.Add(2*time.Hour))
	if err := q.RequestChanges("user_buyer", testBase.Add(3*time.Hour)); !errors.Is(err, ErrApproved) {
		t.Errorf("err = %v, want ErrApproved", err)
	}
}

func TestApproveAndReapprove(t *testing.T) {
	q := testQuotation(t)
	first := testBase.Add(time.Hour)

	q.Approve("user_buyer", first)
	if q.Status != StatusApproved {
		t.Errorf("status = %q, want %q", q.Status, StatusApproved)
	}
	if q.ApprovedBy != "user_buyer" || q.ApprovedAt == nil || !q.ApprovedAt.Equal(first) {
		t.Errorf("approval fields = %q/%v", q.ApprovedBy, q.ApprovedAt)
	}
	last := q.History[len(q.History)-1]
	if last.Action != ActionApproved || last.Description != "Quotation approved" {
		t.Errorf("entry = %+v", last)
	}
	meta, ok := last.Metadata.(map[string]any)
	if !ok || meta["approvedAt"] != first.UTC().Format(time.RFC3339) {
		t.Errorf("metadata = %v", last.Metadata)
	}

	// Re-approval is permitted: it re-appends an entry and refreshes the stamp.
	second := testBase.Add(2 * time.Hour)
	q.Approve("user_buyer2", second)
	if q.ApprovedBy != "user_buyer2" || !q.ApprovedAt.Equal(second) {
		t.Errorf("re-approval fields = %q/%v", q.ApprovedBy, q.ApprovedAt)
	}
	reapproved := q.History[len(q.History)-1]
	if reapproved.Action != ActionApproved || reapproved.OldValue != string(StatusApproved) {
		t.Errorf("entry = %+v", reapproved)
	}
}

func TestSetIssuedDate(t *testing.T) {
	q := testQuotation(t)
	issued := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	q.SetIssuedDate(issued)
	if q.IssuedDate == nil || !q.IssuedDate.Equal(issued) {
		t.Fatalf("issuedDate = %v", q.IssuedDate)
	}
	want := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	if q.DueDate == nil || !q.DueDate.Equal(want) {
		t.Errorf("dueDate = %v, want %v", q.DueDate, want)
	}
}

func TestHistoryDescending(t *testing.T) {
	q := testQuotation(t)
	// Same timestamp as the created entry: seq must break the tie.
	q.appendHistory(ActionCommented, "Comment added: tie", "user_buyer", nil, "tie", "REV.A", nil, testBase)
	q.appendHistory(ActionStatusChanged, "Status changed from Submitted to Under Review", "user_buyer",
		"Submitted", "Under Review", "REV.A", nil, testBase.Add(time.Hour))

	got := q.HistoryDescending()
	if len(got) != 3 {
		t.Fatalf("length = %d, want 3", len(got))
	}
	if got[0].Action != ActionStatusChanged {
		t.Errorf("first = %q, want newest timestamp", got[0].Action)
	}
	if got[1].Action != ActionCommented || got[2].Action != ActionCreated {
		t.Errorf("tie order = %q, %q; want later seq first", got[1].Action, got[2].Action)
	}
	// The ledger itself stays in append order.
	if q.History[0].Action != ActionCreated {
		t.Error("ledger mutated by descending read")
	}
}

// Full workflow walk-through: create, review, request changes, re-upload,
// review again, approve, then verify the terminal state rejects mutation.
func TestReviewWorkflowScenario(t *testing.T) {
	at := testBase
	tick := func() time.Time {
		at = at.Add(time.Minute)
		return at
	}

	q := testQuotation(t)

	if _, err := q.Annotate("missing delivery terms", nil, false, "user_buyer", tick()); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if q.Status != StatusUnderReview {
		t.Fatalf("status = %q, want Under Review", q.Status)
	}

	if err := q.RequestChanges("user_buyer", tick()); err != nil {
		t.Fatalf("request changes: %v", err)
	}
	if q.Status != StatusChangesRequested {
		t.Fatalf("status = %q, want Changes Requested", q.Status)
	}

	next := q.NextVersion()
	if next != "REV.B" {
		t.Fatalf("next version = %q, want REV.B", next)
	}
	if err := q.AddVersion(Version{Version: next, PDFURL: "/uploads/rev-b.pdf", UploadedBy: "user_seller", UploadedAt: at}, "user_seller", tick()); err != nil {
		t.Fatalf("add version: %v", err)
	}
	if q.Status != StatusSubmitted || q.CurrentVersion != "REV.B" {
		t.Fatalf("after upload: status %q version %q", q.Status, q.CurrentVersion)
	}

	if _, err := q.Annotate("looks good now", nil, false, "user_buyer", tick()); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	q.Approve("user_buyer", tick())
	if q.Status != StatusApproved {
		t.Fatalf("status = %q, want Approved", q.Status)
	}

	if err := q.AddVersion(Version{Version: q.NextVersion()}, "user_seller", tick()); !errors.Is(err, ErrApproved) {
		t.Errorf("upload after approval: err = %v, want ErrApproved", err)
	}
	if _, err := q.Annotate("too late", nil, false, "user_buyer", tick()); !errors.Is(err, ErrApproved) {
		t.Errorf("annotate after approval: err = %v, want ErrApproved", err)
	}
	if err := q.RequestChanges("user_buyer", tick()); !errors.Is(err, ErrApproved) {
		t.Errorf("request changes after approval: err = %v, want ErrApproved", err)
	}

	// created, commented, status x2, changes_requested, version_uploaded,
	// status, commented, status, approved.
	if len(q.History) != 9 {
		t.Fatalf("history length = %d, want 9", len(q.History))
	}
	desc := q.HistoryDescending()
	for i := 1; i < len(desc); i++ {
		if desc[i].Timestamp.After(desc[i-1].Timestamp) {
			t.Fatalf("descending order violated at %d", i)
		}
	}
	if desc[0].Action != ActionApproved || desc[len(desc)-1].Action != ActionCreated {
		t.Errorf("ends = %q .. %q", desc[0].Action, desc[len(desc)-1].Action)
	}
}
