// Package quote implements the quotation review domain model: revision
// records, reviewer comments and annotations, the append-only activity
// history, and the status state machine.
package quote

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Status string

const (
	StatusSubmitted        Status = "Submitted"
	StatusUnderReview      Status = "Under Review"
	StatusChangesRequested Status = "Changes Requested"
	StatusApproved         Status = "Approved"
)

// ParseStatus validates a status filter value from the outside.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusSubmitted, StatusUnderReview, StatusChangesRequested, StatusApproved:
		return Status(value), true
	default:
		return "", false
	}
}

var (
	ErrApproved   = errors.New("quotation is approved")
	ErrNoVersions = errors.New("quotation has no versions")
)

// DueDateOffsetDays is added to an extracted issued date to derive the due date.
const DueDateOffsetDays = 45

// Comment is one reviewer remark on a version. Immutable once stored.
type Comment struct {
	Text    string    `json:"text"`
	AddedBy string    `json:"addedBy"`
	AddedAt time.Time `json:"addedAt"`
}

// Version is one uploaded or editor-generated revision of a quotation.
// Only the latest version of a quotation accepts comment/annotation updates;
// earlier versions are immutable history.
type Version struct {
	Version         string       `json:"version"`
	PDFURL          string       `json:"pdfUrl"`
	AnnotatedPDFURL string       `json:"annotatedPdfUrl,omitempty"`
	Comments        []Comment    `json:"comments"`
	UploadedBy      string       `json:"uploadedBy"`
	ReviewedBy      string       `json:"reviewedBy,omitempty"`
	UploadedAt      time.Time    `json:"uploadedAt"`
	Annotations     []Annotation `json:"annotations,omitempty"`
	HTMLContent     string       `json:"htmlContent,omitempty"`
}

// Quotation is the aggregate root. All mutations go through its methods so
// that the version list, the status machine, and the history ledger stay
// consistent; callers persist the whole aggregate atomically afterwards.
type Quotation struct {
	ID             string
	ProjectNumber  string
	DocumentNumber string
	Title          string
	CurrentVersion string
	Status         Status
	Versions       []Version
	CreatedBy      string
	ApprovedBy     string
	ApprovedAt     *time.Time
	IssuedDate     *time.Time
	DueDate        *time.Time
	History        []HistoryEntry
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Revision is the optimistic concurrency token used by the store;
	// it is not part of the wire format.
	Revision int64
}

// New creates a quotation in Submitted state with its first version and the
// corresponding "created" history entry.
func New(id, projectNumber, documentNumber, title string, first Version, createdBy string, now time.Time) *Quotation {
	q := &Quotation{
		ID:             id,
		ProjectNumber:  projectNumber,
		DocumentNumber: documentNumber,
		Title:          title,
		CurrentVersion: first.Version,
		Status:         StatusSubmitted,
		Versions:       []Version{first},
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
		Revision:       1,
	}
	q.appendHistory(ActionCreated,
		fmt.Sprintf("Quotation created with version %s", first.Version),
		createdBy,
		nil,
		map[string]any{
			"projectNumber":  projectNumber,
			"documentNumber": documentNumber,
			"title":          title,
			"version":        first.Version,
		},
		first.Version,
		map[string]any{"pdfUrl": first.PDFURL, "createdFromEditor": first.HTMLContent != ""},
		now,
	)
	return q
}

var revPattern = regexp.MustCompile(`^REV\.([A-Z])$`)

// FirstVersion is the label assigned to a quotation's initial revision.
const FirstVersion = "REV.A"

// NextVersion returns the label for the next revision. Labels follow
// REV.A..REV.Z; REV.Z yields the degenerate REV.Z1, which no longer matches
// the pattern, so the upload after that falls back to REV.A. Kept as-is for
// compatibility with documents already numbered this way.
func (q *Quotation) NextVersion() string {
	if len(q.Versions) == 0 {
		return FirstVersion
	}
	last := q.Versions[len(q.Versions)-1].Version
	match := revPattern.FindStringSubmatch(last)
	if match == nil {
		return FirstVersion
	}
	letter := match[1][0]
	if letter == 'Z' {
		return "REV.Z1"
	}
	return "REV." + string(rune(letter+1))
}

// Latest returns the current version record, or nil when none exist.
func (q *Quotation) Latest() *Version {
	if len(q.Versions) == 0 {
		return nil
	}
	return &q.Versions[len(q.Versions)-1]
}

// AddVersion appends a new revision, resets the status to Submitted, and
// records the matching history entries. The caller assigns v.Version via
// NextVersion beforehand.
func (q *Quotation) AddVersion(v Version, actor string, now time.Time) error {
	if q.Status == StatusApproved {
		return ErrApproved
	}
	q.Normalize(actor, now)

	oldStatus := q.Status
	q.Versions = append(q.Versions, v)
	q.CurrentVersion = v.Version
	q.Status = StatusSubmitted

	q.appendHistory(ActionVersionUploaded,
		fmt.Sprintf("New version %s uploaded", v.Version),
		actor,
		nil,
		v.Version,
		v.Version,
		map[string]any{"pdfUrl": v.PDFURL, "createdFromEditor": v.HTMLContent != ""},
		now,
	)
	if oldStatus != StatusSubmitted {
		q.appendHistory(ActionStatusChanged,
			fmt.Sprintf("Status changed from %s to %s", oldStatus, StatusSubmitted),
			actor, string(oldStatus), string(StatusSubmitted), v.Version, nil, now)
	}
	q.UpdatedAt = now
	return nil
}

// AnnotateResult reports which parts of an annotate call took effect.
type AnnotateResult struct {
	CommentAdded     bool
	AnnotationsSaved bool
	StatusChanged    bool
}

// Annotate applies a reviewer pass to the latest version: an optional comment,
// an optional wholesale replacement of the annotation set, and the
// Submitted → Under Review transition. hasAnnotations distinguishes "replace
// with this set" from "annotations not part of this request".
func (q *Quotation) Annotate(comment string, annotations any, hasAnnotations bool, actor string, now time.Time) (AnnotateResult, error) {
	var res AnnotateResult
	if q.Status == StatusApproved {
		return res, ErrApproved
	}
	if len(q.Versions) == 0 {
		return res, ErrNoVersions
	}
	q.Normalize(actor, now)
	latest := &q.Versions[len(q.Versions)-1]

	if text := strings.TrimSpace(comment); text != "" {
		latest.Comments = append(latest.Comments, Comment{Text: text, AddedBy: actor, AddedAt: now})
		q.appendHistory(ActionCommented, commentDescription(text), actor, nil, text, latest.Version, nil, now)
		res.CommentAdded = true
	}

	if hasAnnotations {
		next := NormalizeAnnotations(annotations)
		if !AnnotationsEqual(latest.Annotations, next) {
			q.appendHistory(ActionAnnotationsSaved,
				fmt.Sprintf("%d annotation(s) saved", len(next)),
				actor,
				len(latest.Annotations),
				len(next),
				latest.Version,
				map[string]any{"annotationCount": len(next)},
				now,
			)
			res.AnnotationsSaved = true
		}
		latest.Annotations = next
	}

	if latest.ReviewedBy == "" || res.CommentAdded {
		latest.ReviewedBy = actor
	}

	if q.Status == StatusSubmitted {
		oldStatus := q.Status
		q.Status = StatusUnderReview
		q.appendHistory(ActionStatusChanged,
			fmt.Sprintf("Status changed from %s to %s", oldStatus, StatusUnderReview),
			actor, string(oldStatus), string(StatusUnderReview), latest.Version, nil, now)
		res.StatusChanged = true
	}
	q.UpdatedAt = now
	return res, nil
}

func commentDescription(text string) string {
	runes := []rune(text)
	if len(runes) <= 100 {
		return "Comment added: " + text
	}
	return "Comment added: " + string(runes[:100]) + "..."
}

// RequestChanges moves the quotation to Changes Requested.
func (q *Quotation) RequestChanges(actor string, now time.Time) error {
	if q.Status == StatusApproved {
		return ErrApproved
	}
	q.Normalize(actor, now)

	oldStatus := q.Status
	q.Status = StatusChangesRequested
	q.appendHistory(ActionChangesRequested,
		"Changes requested for quotation",
		actor, string(oldStatus), string(StatusChangesRequested), q.CurrentVersion, nil, now)
	q.UpdatedAt = now
	return nil
}

// Approve marks the quotation Approved. Deliberately not guarded against an
// already-approved quotation: re-approval re-appends an approved entry and
// refreshes approvedAt, matching the historical behavior of the workflow.
func (q *Quotation) Approve(actor string, now time.Time) {
	q.Normalize(actor, now)

	oldStatus := q.Status
	q.Status = StatusApproved
	q.ApprovedBy = actor
	approvedAt := now
	q.ApprovedAt = &approvedAt

	q.appendHistory(ActionApproved,
		"Quotation approved",
		actor, string(oldStatus), string(StatusApproved), q.CurrentVersion,
		map[string]any{"approvedAt": now.UTC().Format(time.RFC3339)},
		now,
	)
	q.UpdatedAt = now
}

// SetIssuedDate records the date extracted from the PDF and derives the due
// date from it. Informational only; no transition depends on these.
func (q *Quotation) SetIssuedDate(issued time.Time) {
	q.IssuedDate = &issued
	due := issued.AddDate(0, 0, DueDateOffsetDays)
	q.DueDate = &due
}
