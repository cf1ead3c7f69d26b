// Package app wires the quotation review workflow together: sessions,
// account flows, uploads, review actions, and the HTTP surface.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"quoteflow/api/internal/auth"
	"quoteflow/api/internal/authpw"
	"quoteflow/api/internal/blob"
	"quoteflow/api/internal/config"
	"quoteflow/api/internal/email"
	"quoteflow/api/internal/pdfdate"
	"quoteflow/api/internal/quote"
	"quoteflow/api/internal/render"
	"quoteflow/api/internal/search"
	"quoteflow/api/internal/session"
	"quoteflow/api/internal/store"
	"quoteflow/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the slice of the Postgres store the service uses.
type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	SaveUser(context.Context, store.User) error
	ListSuppliers(context.Context, string) ([]store.User, error)

	InsertQuotation(context.Context, *quote.Quotation) error
	UpdateQuotation(context.Context, *quote.Quotation) error
	GetQuotation(context.Context, string) (*quote.Quotation, error)
	GetQuotationByDocumentNumber(context.Context, string) (*quote.Quotation, error)
	ListQuotations(context.Context, store.QuotationFilter) ([]*quote.Quotation, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type pdfRenderer interface {
	RenderPDF(ctx context.Context, html, title string) ([]byte, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, token string) error
	SendPasswordResetEmail(to, userName, token string) error
	SendSupplierInvitation(to, supplierName, buyerName, companyName, token string) error
	SendNewVersionNotification(to, buyerName, supplierName, documentNumber, title, version, quotationID string) error
	SendStatusChangeNotification(to, supplierName, documentNumber, title, oldStatus, newStatus, comment, quotationID string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexQuotation(rec search.QuotationRecord)
	DeleteQuotation(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	accounts *authpw.Service
	blobs    blob.Store
	renderer pdfRenderer
	mail     mailer
	search   searchIndex
	now      func() time.Time
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	sessions *session.RedisStore,
	accounts *authpw.Service,
	blobs blob.Store,
	renderer *render.Renderer,
	mail *email.Service,
	searchSvc *search.Service,
) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		accounts: accounts,
		blobs:    blobs,
		now:      time.Now,
	}
	// Assigned only when non-nil so interface fields stay nil-checkable.
	if renderer != nil {
		s.renderer = renderer
	}
	if mail != nil {
		s.mail = mail
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Accounts() *authpw.Service {
	return s.accounts
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.TokenData{
		UserID: user.ID,
		Role:   user.Role,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user.Status != store.UserActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates the refresh token: the old one is revoked and a fresh
// session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	if user.Status != store.UserActive {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.CreateSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// ---- account flows ----

// Register creates a buyer account and sends the verification email. The
// token is returned so the handler can surface it when email is off.
func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (store.User, string, error) {
	res, err := s.accounts.Register(ctx, req)
	if err != nil {
		return store.User{}, "", err
	}
	if s.SMTPConfigured() {
		go func(user store.User, token string) {
			if err := s.mail.SendVerificationEmail(user.Email, user.Name, token); err != nil {
				log.Printf("email: verification to %s: %v", user.Email, err)
			}
		}(res.User, res.VerificationToken)
	}
	return res.User, res.VerificationToken, nil
}

func (s *Service) ResendVerification(ctx context.Context, emailAddr string) (string, error) {
	token, err := s.accounts.ResendVerification(ctx, emailAddr)
	if err != nil || token == "" {
		return "", err
	}
	if s.SMTPConfigured() {
		user, lookupErr := s.store.GetUserByEmail(ctx, emailAddr)
		if lookupErr == nil {
			go func() {
				if err := s.mail.SendVerificationEmail(user.Email, user.Name, token); err != nil {
					log.Printf("email: verification to %s: %v", user.Email, err)
				}
			}()
		}
	}
	return token, nil
}

func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) (string, error) {
	token, user, err := s.accounts.RequestPasswordReset(ctx, emailAddr)
	if err != nil || token == "" {
		return "", err
	}
	if s.SMTPConfigured() {
		go func() {
			if err := s.mail.SendPasswordResetEmail(user.Email, user.Name, token); err != nil {
				log.Printf("email: password reset to %s: %v", user.Email, err)
			}
		}()
	}
	return token, nil
}

// InviteSupplier lets a buyer onboard a seller account.
func (s *Service) InviteSupplier(ctx context.Context, sess Session, req authpw.InviteSupplierRequest) (store.User, string, error) {
	if sess.Role != store.RoleBuyer {
		return store.User{}, "", domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can invite suppliers", nil)
	}
	res, err := s.accounts.InviteSupplier(ctx, sess.UserID, req)
	if err != nil {
		return store.User{}, "", err
	}
	if s.SMTPConfigured() {
		buyer, lookupErr := s.store.GetUserByID(ctx, sess.UserID)
		if lookupErr == nil {
			go func(invited store.User, token string) {
				if err := s.mail.SendSupplierInvitation(invited.Email, invited.Name, buyer.Name, buyer.CompanyName, token); err != nil {
					log.Printf("email: invitation to %s: %v", invited.Email, err)
				}
			}(res.User, res.InvitationToken)
		}
	}
	return res.User, res.InvitationToken, nil
}

func (s *Service) ListSuppliers(ctx context.Context, sess Session) ([]store.User, error) {
	if sess.Role != store.RoleBuyer {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can list suppliers", nil)
	}
	return s.store.ListSuppliers(ctx, sess.UserID)
}

// GetSupplier returns one of the buyer's onboarded suppliers.
func (s *Service) GetSupplier(ctx context.Context, sess Session, supplierID string) (store.User, error) {
	if sess.Role != store.RoleBuyer {
		return store.User{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can view suppliers", nil)
	}
	supplier, err := s.store.GetUserByID(ctx, supplierID)
	if err != nil {
		return store.User{}, err
	}
	if supplier.Role != store.RoleSeller || supplier.OnboardedBy == nil || *supplier.OnboardedBy != sess.UserID {
		return store.User{}, sql.ErrNoRows
	}
	return supplier, nil
}

// SetSupplierStatus activates or deactivates a supplier the buyer onboarded.
func (s *Service) SetSupplierStatus(ctx context.Context, sess Session, supplierID, status string) (store.User, error) {
	if sess.Role != store.RoleBuyer {
		return store.User{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can manage suppliers", nil)
	}
	if status != store.UserActive && status != store.UserInactive {
		return store.User{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be active or inactive", nil)
	}
	supplier, err := s.store.GetUserByID(ctx, supplierID)
	if err != nil {
		return store.User{}, err
	}
	if supplier.Role != store.RoleSeller || supplier.OnboardedBy == nil || *supplier.OnboardedBy != sess.UserID {
		return store.User{}, sql.ErrNoRows
	}
	if supplier.Status == store.UserInvited {
		return store.User{}, domainError(http.StatusConflict, "INVITATION_PENDING", "Supplier has not accepted the invitation yet", nil)
	}
	supplier.Status = status
	if err := s.store.SaveUser(ctx, supplier); err != nil {
		return store.User{}, err
	}
	return supplier, nil
}

// ---- quotations ----

type UploadQuotationInput struct {
	ProjectNumber  string
	DocumentNumber string
	Title          string
	FileName       string
	FileData       []byte
	HTMLContent    string
}

// UploadQuotation creates a new quotation for an unseen document number, or
// appends the next revision to the existing one. Editor content is rendered
// to PDF first so every version has a PDF.
func (s *Service) UploadQuotation(ctx context.Context, sess Session, input UploadQuotationInput) (*quote.Quotation, error) {
	if sess.Role != store.RoleSeller {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only suppliers can upload quotations", nil)
	}

	projectNumber := strings.TrimSpace(input.ProjectNumber)
	documentNumber := strings.TrimSpace(input.DocumentNumber)
	title := strings.TrimSpace(input.Title)
	if projectNumber == "" || documentNumber == "" || title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectNumber, documentNumber, and title are required", nil)
	}

	fromEditor := strings.TrimSpace(input.HTMLContent) != ""
	pdfData := input.FileData
	if fromEditor {
		if s.renderer == nil {
			return nil, domainError(http.StatusServiceUnavailable, "PDF_RENDER_UNAVAILABLE", "PDF rendering is not available", nil)
		}
		rendered, err := s.renderer.RenderPDF(ctx, input.HTMLContent, title)
		if err != nil {
			if errors.Is(err, render.ErrChromeMissing) {
				return nil, domainError(http.StatusServiceUnavailable, "PDF_RENDER_UNAVAILABLE", "PDF rendering is not available", nil)
			}
			return nil, domainError(http.StatusBadGateway, "RENDER_FAILED", "PDF rendering failed", nil)
		}
		pdfData = rendered
	}
	if len(pdfData) < 4 || string(pdfData[:4]) != "%PDF" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file must be a PDF", nil)
	}

	now := s.now()

	existing, err := s.store.GetQuotationByDocumentNumber(ctx, documentNumber)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		if existing.CreatedBy != sess.UserID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Quotation belongs to another supplier", nil)
		}
		return s.appendVersion(ctx, sess, existing.ID, pdfData, input.HTMLContent, now)
	}

	id := util.NewID("quo")
	objectName := id + "/" + quote.FirstVersion + ".pdf"
	if err := s.blobs.Save(ctx, objectName, pdfData, "application/pdf"); err != nil {
		return nil, err
	}
	first := quote.Version{
		Version:     quote.FirstVersion,
		PDFURL:      "/uploads/" + objectName,
		Comments:    []quote.Comment{},
		UploadedBy:  sess.UserID,
		UploadedAt:  now,
		HTMLContent: input.HTMLContent,
	}
	q := quote.New(id, projectNumber, documentNumber, title, first, sess.UserID, now)
	if issued, err := pdfdate.ExtractIssuedDate(pdfData, now); err == nil {
		q.SetIssuedDate(issued)
	}

	if err := s.store.InsertQuotation(ctx, q); err != nil {
		_ = s.blobs.Remove(ctx, objectName)
		if errors.Is(err, store.ErrDuplicateDocumentNumber) {
			return nil, domainError(http.StatusConflict, "DUPLICATE_DOCUMENT_NUMBER", "A quotation with this document number already exists", nil)
		}
		return nil, err
	}

	s.indexQuotation(ctx, q)
	s.notifyNewVersion(q, quote.FirstVersion, sess.UserName)
	return q, nil
}

func (s *Service) appendVersion(ctx context.Context, sess Session, quotationID string, pdfData []byte, htmlContent string, now time.Time) (*quote.Quotation, error) {
	issued, issuedErr := pdfdate.ExtractIssuedDate(pdfData, now)

	// The version append and the issued-date update commit as one save; the
	// blob is stored only once AddVersion's guards have passed.
	var versionLabel string
	q, err := s.mutateQuotation(ctx, quotationID, func(q *quote.Quotation) error {
		versionLabel = q.NextVersion()
		objectName := q.ID + "/" + versionLabel + ".pdf"
		v := quote.Version{
			Version:     versionLabel,
			PDFURL:      "/uploads/" + objectName,
			Comments:    []quote.Comment{},
			UploadedBy:  sess.UserID,
			UploadedAt:  now,
			HTMLContent: htmlContent,
		}
		if err := q.AddVersion(v, sess.UserID, now); err != nil {
			return err
		}
		if issuedErr == nil {
			q.SetIssuedDate(issued)
		}
		return s.blobs.Save(ctx, objectName, pdfData, "application/pdf")
	})
	if err != nil {
		return nil, err
	}
	s.indexQuotation(ctx, q)
	s.notifyNewVersion(q, versionLabel, sess.UserName)
	return q, nil
}

// mutateQuotation loads, mutates, and saves the aggregate, retrying lost
// optimistic-concurrency races from a fresh load.
func (s *Service) mutateQuotation(ctx context.Context, id string, fn func(*quote.Quotation) error) (*quote.Quotation, error) {
	for attempt := 0; attempt < 3; attempt++ {
		q, err := s.store.GetQuotation(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(q); err != nil {
			return nil, err
		}
		err = s.store.UpdateQuotation(ctx, q)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, store.ErrStaleQuotation) {
			return nil, err
		}
	}
	return nil, domainError(http.StatusConflict, "CONFLICT", "Quotation was modified concurrently, please retry", nil)
}

// canViewQuotation applies the visibility rule: suppliers see their own
// quotations, buyers see quotations from suppliers they onboarded.
func (s *Service) canViewQuotation(ctx context.Context, sess Session, q *quote.Quotation) (bool, error) {
	switch sess.Role {
	case store.RoleSeller:
		return q.CreatedBy == sess.UserID, nil
	case store.RoleBuyer:
		creator, err := s.store.GetUserByID(ctx, q.CreatedBy)
		if err != nil {
			return false, err
		}
		return creator.OnboardedBy != nil && *creator.OnboardedBy == sess.UserID, nil
	default:
		return false, nil
	}
}

func (s *Service) getVisibleQuotation(ctx context.Context, sess Session, id string) (*quote.Quotation, error) {
	q, err := s.store.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.canViewQuotation(ctx, sess, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Hidden quotations are indistinguishable from missing ones.
		return nil, sql.ErrNoRows
	}
	return q, nil
}

func (s *Service) GetQuotation(ctx context.Context, sess Session, id string) (*quote.Quotation, error) {
	return s.getVisibleQuotation(ctx, sess, id)
}

// ListQuotations returns the caller's visible quotations. supplierID lets a
// buyer narrow the list to one of their suppliers; sellers ignore it.
func (s *Service) ListQuotations(ctx context.Context, sess Session, statusFilter, supplierID, searchTerm string) ([]*quote.Quotation, error) {
	filter := store.QuotationFilter{Search: strings.TrimSpace(searchTerm)}
	if statusFilter != "" {
		status, ok := quote.ParseStatus(statusFilter)
		if !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid status filter", nil)
		}
		filter.Status = string(status)
	}
	switch sess.Role {
	case store.RoleSeller:
		filter.CreatedBy = sess.UserID
	case store.RoleBuyer:
		filter.OnboardedBy = sess.UserID
		if id := strings.TrimSpace(supplierID); id != "" {
			supplier, err := s.store.GetUserByID(ctx, id)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			if err != nil || supplier.Role != store.RoleSeller || supplier.OnboardedBy == nil || *supplier.OnboardedBy != sess.UserID {
				return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Supplier is not onboarded by this buyer", nil)
			}
			filter.CreatedBy = id
		}
	default:
		return []*quote.Quotation{}, nil
	}
	return s.store.ListQuotations(ctx, filter)
}

type AnnotateInput struct {
	Comment        string
	Annotations    json.RawMessage
	HasAnnotations bool
}

// Annotate records a reviewer pass on the latest version.
func (s *Service) Annotate(ctx context.Context, sess Session, id string, input AnnotateInput) (*quote.Quotation, error) {
	if sess.Role != store.RoleBuyer {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can review quotations", nil)
	}
	if _, err := s.getVisibleQuotation(ctx, sess, id); err != nil {
		return nil, err
	}

	var oldStatus quote.Status
	var result quote.AnnotateResult
	q, err := s.mutateQuotation(ctx, id, func(q *quote.Quotation) error {
		oldStatus = q.Status
		var err error
		result, err = q.Annotate(input.Comment, input.Annotations, input.HasAnnotations, sess.UserID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.indexQuotation(ctx, q)
	if result.StatusChanged {
		s.notifyStatusChange(q, string(oldStatus), strings.TrimSpace(input.Comment))
	}
	return q, nil
}

// RequestChanges sends the quotation back to the supplier, optionally with a
// comment explaining what to fix.
func (s *Service) RequestChanges(ctx context.Context, sess Session, id, comment string) (*quote.Quotation, error) {
	if sess.Role != store.RoleBuyer {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can request changes", nil)
	}
	if _, err := s.getVisibleQuotation(ctx, sess, id); err != nil {
		return nil, err
	}

	var oldStatus quote.Status
	q, err := s.mutateQuotation(ctx, id, func(q *quote.Quotation) error {
		oldStatus = q.Status
		now := s.now()
		if strings.TrimSpace(comment) != "" {
			if _, err := q.Annotate(comment, nil, false, sess.UserID, now); err != nil {
				return err
			}
		}
		return q.RequestChanges(sess.UserID, now)
	})
	if err != nil {
		return nil, err
	}
	s.indexQuotation(ctx, q)
	// A bare request-changes still mails the latest feedback the supplier has.
	notifyComment := strings.TrimSpace(comment)
	if notifyComment == "" {
		if latest := q.Latest(); latest != nil && len(latest.Comments) > 0 {
			notifyComment = latest.Comments[len(latest.Comments)-1].Text
		}
	}
	s.notifyStatusChange(q, string(oldStatus), notifyComment)
	return q, nil
}

// Approve marks the quotation approved on behalf of the buyer.
func (s *Service) Approve(ctx context.Context, sess Session, id string) (*quote.Quotation, error) {
	if sess.Role != store.RoleBuyer {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can approve quotations", nil)
	}
	if _, err := s.getVisibleQuotation(ctx, sess, id); err != nil {
		return nil, err
	}

	var oldStatus quote.Status
	q, err := s.mutateQuotation(ctx, id, func(q *quote.Quotation) error {
		oldStatus = q.Status
		q.Approve(sess.UserID, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.indexQuotation(ctx, q)
	if oldStatus != quote.StatusApproved {
		s.notifyStatusChange(q, string(oldStatus), "")
	}
	return q, nil
}

// History returns the quotation's activity, newest first.
func (s *Service) History(ctx context.Context, sess Session, id string) ([]quote.HistoryEntry, error) {
	q, err := s.getVisibleQuotation(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	return q.HistoryDescending(), nil
}

// ActivityEntry is one history entry paired with its quotation, for the
// cross-quotation activity feed.
type ActivityEntry struct {
	QuotationID    string             `json:"quotationId"`
	DocumentNumber string             `json:"documentNumber"`
	Title          string             `json:"title"`
	Entry          quote.HistoryEntry `json:"entry"`
}

// Activity flattens recent history across every quotation the caller can
// see, newest first.
func (s *Service) Activity(ctx context.Context, sess Session, limit int) ([]ActivityEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	quotations, err := s.ListQuotations(ctx, sess, "", "", "")
	if err != nil {
		return nil, err
	}
	entries := make([]ActivityEntry, 0)
	for _, q := range quotations {
		for _, entry := range q.History {
			entries = append(entries, ActivityEntry{
				QuotationID:    q.ID,
				DocumentNumber: q.DocumentNumber,
				Title:          q.Title,
				Entry:          entry,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Entry.Timestamp.Equal(entries[j].Entry.Timestamp) {
			return entries[i].Entry.Timestamp.After(entries[j].Entry.Timestamp)
		}
		return entries[i].Entry.Seq > entries[j].Entry.Seq
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// HTMLContent returns the editor content of the latest version, for the
// supplier to reopen an editor-created quotation.
func (s *Service) HTMLContent(ctx context.Context, sess Session, id string) (string, error) {
	if sess.Role != store.RoleSeller {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Only suppliers can edit quotation content", nil)
	}
	q, err := s.getVisibleQuotation(ctx, sess, id)
	if err != nil {
		return "", err
	}
	latest := q.Latest()
	if latest == nil || latest.HTMLContent == "" {
		return "", domainError(http.StatusNotFound, "NO_HTML_CONTENT", "This version was not created in the editor", nil)
	}
	return latest.HTMLContent, nil
}

// NextVersionLabel previews the label the next upload would get.
func (s *Service) NextVersionLabel(ctx context.Context, sess Session, id string) (string, error) {
	q, err := s.getVisibleQuotation(ctx, sess, id)
	if err != nil {
		return "", err
	}
	return q.NextVersion(), nil
}

// Statistics summarizes the buyer's visible quotations: totals, per-status
// and per-supplier counts, and the most recent activity.
func (s *Service) Statistics(ctx context.Context, sess Session) (map[string]any, error) {
	if sess.Role != store.RoleBuyer {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only buyers can view statistics", nil)
	}
	quotations, err := s.ListQuotations(ctx, sess, "", "", "")
	if err != nil {
		return nil, err
	}
	counts := map[string]int{
		string(quote.StatusSubmitted):        0,
		string(quote.StatusUnderReview):      0,
		string(quote.StatusChangesRequested): 0,
		string(quote.StatusApproved):         0,
	}
	bySupplier := map[string]int{}
	supplierNames := map[string]string{}
	for _, q := range quotations {
		counts[string(q.Status)]++
		name, ok := supplierNames[q.CreatedBy]
		if !ok {
			name = q.CreatedBy
			if creator, err := s.store.GetUserByID(ctx, q.CreatedBy); err == nil {
				name = creator.Name
			}
			supplierNames[q.CreatedBy] = name
		}
		bySupplier[name]++
	}
	recent, err := s.Activity(ctx, sess, 10)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total":          len(quotations),
		"byStatus":       counts,
		"bySupplier":     bySupplier,
		"recentActivity": recent,
	}, nil
}

// Search runs a scoped full-text search. Falls back to the store's ILIKE
// filter when no search backend is wired.
func (s *Service) Search(ctx context.Context, sess Session, text, status string, limit, offset int) (search.Response, error) {
	if s.search != nil {
		return s.search.Search(search.Query{
			Text:   text,
			UserID: sess.UserID,
			Role:   sess.Role,
			Status: status,
			Limit:  limit,
			Offset: offset,
		}), nil
	}
	quotations, err := s.ListQuotations(ctx, sess, status, "", text)
	if err != nil {
		return search.Response{}, err
	}
	results := make([]search.Result, 0, len(quotations))
	for _, q := range quotations {
		results = append(results, search.Result{
			ID:             q.ID,
			ProjectNumber:  q.ProjectNumber,
			DocumentNumber: q.DocumentNumber,
			Title:          q.Title,
			Status:         string(q.Status),
			LatestVersion:  q.CurrentVersion,
			CreatedBy:      q.CreatedBy,
		})
	}
	return search.Response{Results: results, Total: len(results), Query: text}, nil
}

// ReadUpload fetches a stored PDF for serving.
func (s *Service) ReadUpload(ctx context.Context, name string) ([]byte, string, error) {
	return s.blobs.Read(ctx, name)
}

// ---- side effects ----

func (s *Service) indexQuotation(ctx context.Context, q *quote.Quotation) {
	if s.search == nil {
		return
	}
	onboardedBy := ""
	if creator, err := s.store.GetUserByID(ctx, q.CreatedBy); err == nil && creator.OnboardedBy != nil {
		onboardedBy = *creator.OnboardedBy
	}
	s.search.IndexQuotation(search.QuotationRecord{
		ID:             q.ID,
		ProjectNumber:  q.ProjectNumber,
		DocumentNumber: q.DocumentNumber,
		Title:          q.Title,
		Status:         string(q.Status),
		LatestVersion:  q.CurrentVersion,
		CreatedBy:      q.CreatedBy,
		OnboardedBy:    onboardedBy,
	})
}

// notifyNewVersion tells the onboarding buyer a revision arrived.
func (s *Service) notifyNewVersion(q *quote.Quotation, versionLabel, supplierName string) {
	if !s.SMTPConfigured() {
		return
	}
	go func() {
		ctx := context.Background()
		creator, err := s.store.GetUserByID(ctx, q.CreatedBy)
		if err != nil || creator.OnboardedBy == nil {
			return
		}
		buyer, err := s.store.GetUserByID(ctx, *creator.OnboardedBy)
		if err != nil {
			return
		}
		if err := s.mail.SendNewVersionNotification(buyer.Email, buyer.Name, supplierName, q.DocumentNumber, q.Title, versionLabel, q.ID); err != nil {
			log.Printf("email: new version for %s: %v", q.ID, err)
		}
	}()
}

// notifyStatusChange tells the supplier the review status moved.
func (s *Service) notifyStatusChange(q *quote.Quotation, oldStatus, comment string) {
	if !s.SMTPConfigured() {
		return
	}
	newStatus := string(q.Status)
	go func() {
		ctx := context.Background()
		creator, err := s.store.GetUserByID(ctx, q.CreatedBy)
		if err != nil {
			return
		}
		if err := s.mail.SendStatusChangeNotification(creator.Email, creator.Name, q.DocumentNumber, q.Title, oldStatus, newStatus, comment, q.ID); err != nil {
			log.Printf("email: status change for %s: %v", q.ID, err)
		}
	}()
}

// quotationPayload is the wire shape of the aggregate.
func quotationPayload(q *quote.Quotation) map[string]any {
	payload := map[string]any{
		"id":             q.ID,
		"projectNumber":  q.ProjectNumber,
		"documentNumber": q.DocumentNumber,
		"title":          q.Title,
		"currentVersion": q.CurrentVersion,
		"status":         string(q.Status),
		"versions":       q.Versions,
		"createdBy":      q.CreatedBy,
		"createdAt":      q.CreatedAt.Format(time.RFC3339),
		"updatedAt":      q.UpdatedAt.Format(time.RFC3339),
	}
	if q.ApprovedBy != "" {
		payload["approvedBy"] = q.ApprovedBy
	}
	if q.ApprovedAt != nil {
		payload["approvedAt"] = q.ApprovedAt.Format(time.RFC3339)
	}
	if q.IssuedDate != nil {
		payload["issuedDate"] = q.IssuedDate.Format(time.RFC3339)
	}
	if q.DueDate != nil {
		payload["dueDate"] = q.DueDate.Format(time.RFC3339)
	}
	return payload
}
