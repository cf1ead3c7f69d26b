package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"quoteflow/api/internal/quote"
)

var (
	// ErrDuplicateDocumentNumber reports a document number collision on insert.
	ErrDuplicateDocumentNumber = errors.New("document number already exists")
	// ErrDuplicateEmail reports an email collision on user insert.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrStaleQuotation reports a lost optimistic-concurrency race: the row
	// changed between load and save.
	ErrStaleQuotation = errors.New("quotation was modified concurrently")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// ---- users ----

const userColumns = `id, name, email, password_hash, role, company_name, phone, status,
	onboarded_by, invitation_token, invitation_expires_at,
	is_email_verified, verification_token, verification_expires_at,
	reset_token, reset_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var onboardedBy sql.NullString
	var invitationExpires, verificationExpires, resetExpires sql.NullTime
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CompanyName, &u.Phone, &u.Status,
		&onboardedBy, &u.InvitationToken, &invitationExpires,
		&u.IsEmailVerified, &u.VerificationToken, &verificationExpires,
		&u.ResetToken, &resetExpires, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if onboardedBy.Valid {
		u.OnboardedBy = &onboardedBy.String
	}
	if invitationExpires.Valid {
		u.InvitationExpiresAt = &invitationExpires.Time
	}
	if verificationExpires.Valid {
		u.VerificationExpiresAt = &verificationExpires.Time
	}
	if resetExpires.Valid {
		u.ResetExpiresAt = &resetExpires.Time
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, company_name, phone, status,
			onboarded_by, invitation_token, invitation_expires_at,
			is_email_verified, verification_token, verification_expires_at,
			reset_token, reset_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CompanyName, u.Phone, u.Status,
		u.OnboardedBy, u.InvitationToken, u.InvitationExpiresAt,
		u.IsEmailVerified, u.VerificationToken, u.VerificationExpiresAt,
		u.ResetToken, u.ResetExpiresAt, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err, "users_email_key") {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// SaveUser persists every mutable field of an existing account.
func (s *PostgresStore) SaveUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name=$2, password_hash=$3, company_name=$4, phone=$5, status=$6,
			onboarded_by=$7, invitation_token=$8, invitation_expires_at=$9,
			is_email_verified=$10, verification_token=$11, verification_expires_at=$12,
			reset_token=$13, reset_expires_at=$14, updated_at=NOW()
		WHERE id=$1
	`, u.ID, u.Name, u.PasswordHash, u.CompanyName, u.Phone, u.Status,
		u.OnboardedBy, u.InvitationToken, u.InvitationExpiresAt,
		u.IsEmailVerified, u.VerificationToken, u.VerificationExpiresAt,
		u.ResetToken, u.ResetExpiresAt)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByInvitationToken(ctx context.Context, token string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE invitation_token=$1 AND status=$2
	`, token, UserInvited))
}

func (s *PostgresStore) GetUserByVerificationToken(ctx context.Context, token string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE verification_token=$1`, token))
}

func (s *PostgresStore) GetUserByResetToken(ctx context.Context, token string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token=$1`, token))
}

// ListSuppliers returns the seller accounts a buyer has onboarded, newest
// first. Inactive (soft-deleted) suppliers are included so the buyer can
// reactivate them.
func (s *PostgresStore) ListSuppliers(ctx context.Context, onboardedBy string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role=$1 AND onboarded_by=$2
		ORDER BY created_at DESC
	`, RoleSeller, onboardedBy)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suppliers: %w", err)
	}
	return items, nil
}

// ---- quotations ----
//
// A quotation is stored as one row per aggregate: scalar columns for the
// filterable fields, versions and history as JSONB, and a revision counter
// for optimistic concurrency. Loading goes through quote.Version's lenient
// decoder, so legacy comment shapes are repaired on read.

func encodeAggregate(q *quote.Quotation) (versions, history []byte, err error) {
	versions, err = json.Marshal(q.Versions)
	if err != nil {
		return nil, nil, fmt.Errorf("encode versions: %w", err)
	}
	history, err = json.Marshal(q.History)
	if err != nil {
		return nil, nil, fmt.Errorf("encode history: %w", err)
	}
	return versions, history, nil
}

const quotationColumns = `q.id, q.project_number, q.document_number, q.title, q.current_version,
	q.status, q.created_by, q.approved_by, q.approved_at, q.issued_date, q.due_date,
	q.versions, q.history, q.revision, q.created_at, q.updated_at`

func scanQuotation(row interface{ Scan(...any) error }) (*quote.Quotation, error) {
	var q quote.Quotation
	var status string
	var approvedBy sql.NullString
	var approvedAt, issuedDate, dueDate sql.NullTime
	var versions, history []byte
	err := row.Scan(
		&q.ID, &q.ProjectNumber, &q.DocumentNumber, &q.Title, &q.CurrentVersion,
		&status, &q.CreatedBy, &approvedBy, &approvedAt, &issuedDate, &dueDate,
		&versions, &history, &q.Revision, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.Status = quote.Status(status)
	if approvedBy.Valid {
		q.ApprovedBy = approvedBy.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		q.ApprovedAt = &t
	}
	if issuedDate.Valid {
		t := issuedDate.Time
		q.IssuedDate = &t
	}
	if dueDate.Valid {
		t := dueDate.Time
		q.DueDate = &t
	}
	if err := json.Unmarshal(versions, &q.Versions); err != nil {
		return nil, fmt.Errorf("decode versions: %w", err)
	}
	if err := json.Unmarshal(history, &q.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &q, nil
}

func (s *PostgresStore) InsertQuotation(ctx context.Context, q *quote.Quotation) error {
	versions, history, err := encodeAggregate(q)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotations (id, project_number, document_number, title, current_version,
			status, created_by, approved_by, approved_at, issued_date, due_date,
			versions, history, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, q.ID, q.ProjectNumber, q.DocumentNumber, q.Title, q.CurrentVersion,
		string(q.Status), q.CreatedBy, nullString(q.ApprovedBy), q.ApprovedAt, q.IssuedDate, q.DueDate,
		versions, history, q.Revision, q.CreatedAt, q.UpdatedAt)
	if isUniqueViolation(err, "quotations_document_number_key") {
		return ErrDuplicateDocumentNumber
	}
	if err != nil {
		return fmt.Errorf("insert quotation: %w", err)
	}
	return nil
}

// UpdateQuotation saves the aggregate only if nobody else saved it since it
// was loaded; a stale revision returns ErrStaleQuotation and the caller
// retries from a fresh load.
func (s *PostgresStore) UpdateQuotation(ctx context.Context, q *quote.Quotation) error {
	versions, history, err := encodeAggregate(q)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE quotations
		SET current_version=$2, status=$3, approved_by=$4, approved_at=$5,
			issued_date=$6, due_date=$7, versions=$8, history=$9,
			updated_at=$10, revision=revision+1
		WHERE id=$1 AND revision=$11
	`, q.ID, q.CurrentVersion, string(q.Status), nullString(q.ApprovedBy), q.ApprovedAt,
		q.IssuedDate, q.DueDate, versions, history, q.UpdatedAt, q.Revision)
	if err != nil {
		return fmt.Errorf("update quotation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update quotation: %w", err)
	}
	if affected == 0 {
		return ErrStaleQuotation
	}
	q.Revision++
	return nil
}

func (s *PostgresStore) GetQuotation(ctx context.Context, quotationID string) (*quote.Quotation, error) {
	return scanQuotation(s.db.QueryRowContext(ctx,
		`SELECT `+quotationColumns+` FROM quotations q WHERE q.id=$1`, quotationID))
}

// GetQuotationByDocumentNumber finds the aggregate an upload should append
// to. Returns sql.ErrNoRows when the document number is new.
func (s *PostgresStore) GetQuotationByDocumentNumber(ctx context.Context, documentNumber string) (*quote.Quotation, error) {
	return scanQuotation(s.db.QueryRowContext(ctx,
		`SELECT `+quotationColumns+` FROM quotations q WHERE q.document_number=$1`, documentNumber))
}

func (s *PostgresStore) ListQuotations(ctx context.Context, f QuotationFilter) ([]*quote.Quotation, error) {
	query := `SELECT ` + quotationColumns + ` FROM quotations q`
	var conds []string
	var args []any

	if f.OnboardedBy != "" {
		query += ` JOIN users u ON u.id = q.created_by`
		args = append(args, f.OnboardedBy)
		conds = append(conds, fmt.Sprintf("u.onboarded_by=$%d", len(args)))
	}
	if f.CreatedBy != "" {
		args = append(args, f.CreatedBy)
		conds = append(conds, fmt.Sprintf("q.created_by=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("q.status=$%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(q.project_number ILIKE $%d OR q.document_number ILIKE $%d OR q.title ILIKE $%d)", n, n, n))
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY q.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quotations: %w", err)
	}
	defer rows.Close()

	items := make([]*quote.Quotation, 0)
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quotation: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotations: %w", err)
	}
	return items, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
