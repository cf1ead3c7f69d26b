package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quoteflow/api/internal/auth"
	"quoteflow/api/internal/authpw"
	"quoteflow/api/internal/blob"
	"quoteflow/api/internal/quote"
	"quoteflow/api/internal/store"
)

// maxUploadBytes caps quotation PDF uploads at 10 MB.
const maxUploadBytes = 10 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/register" {
		s.handleRegister(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/resend-verification" {
		s.handleResendVerification(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/forgot-password" {
		s.handleForgotPassword(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleResetPassword(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/accept-invitation" {
		s.handleAcceptInvitation(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		s.handleRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/me" {
		s.handleMe(w, r, session)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/change-password" {
		s.handleChangePassword(w, r, session)
		return
	}
	if r.Method == http.MethodPut && r.URL.Path == "/api/auth/profile" {
		s.handleUpdateProfile(w, r, session)
		return
	}

	if r.URL.Path == "/api/suppliers" {
		switch r.Method {
		case http.MethodGet:
			s.handleListSuppliers(w, r, session)
			return
		case http.MethodPost:
			s.handleInviteSupplier(w, r, session)
			return
		}
	}

	if strings.HasPrefix(r.URL.Path, "/uploads/") && r.Method == http.MethodGet {
		s.handleServeUpload(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "suppliers" {
		switch r.Method {
		case http.MethodGet:
			s.handleGetSupplier(w, r, session, parts[2])
			return
		case http.MethodDelete:
			s.handleRemoveSupplier(w, r, session, parts[2])
			return
		}
	}
	// /api/suppliers/{id}/status
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "suppliers" && parts[3] == "status" && r.Method == http.MethodPut {
		s.handleSetSupplierStatus(w, r, session, parts[2])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "quotations" {
		s.handleQuotations(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleQuotations(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleListQuotations(w, r, session)
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleUploadQuotation(w, r, session)
	case len(rest) == 1 && rest[0] == "statistics" && r.Method == http.MethodGet:
		s.handleStatistics(w, r, session)
	case len(rest) == 1 && rest[0] == "activity" && r.Method == http.MethodGet:
		s.handleActivity(w, r, session)
	case len(rest) == 1 && r.Method == http.MethodGet:
		s.handleGetQuotation(w, r, session, rest[0])
	case len(rest) == 2 && rest[1] == "annotate" && r.Method == http.MethodPost:
		s.handleAnnotate(w, r, session, rest[0])
	case len(rest) == 2 && rest[1] == "request-changes" && r.Method == http.MethodPost:
		s.handleRequestChanges(w, r, session, rest[0])
	case len(rest) == 2 && rest[1] == "approve" && r.Method == http.MethodPost:
		s.handleApprove(w, r, session, rest[0])
	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		s.handleHistory(w, r, session, rest[0])
	case len(rest) == 2 && rest[1] == "html-content" && r.Method == http.MethodGet:
		s.handleHTMLContent(w, r, session, rest[0])
	case len(rest) == 2 && rest[1] == "next-version" && r.Method == http.MethodGet:
		s.handleNextVersion(w, r, session, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ---- auth handlers ----

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		CompanyName string `json:"companyName"`
		Phone       string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, verificationToken, err := s.service.Register(r.Context(), authpw.RegisterRequest{
		Name:        body.Name,
		Email:       body.Email,
		Password:    body.Password,
		CompanyName: body.CompanyName,
		Phone:       body.Phone,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailExists) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	response := map[string]any{
		"userId":  user.ID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: surface the token when no SMTP is configured.
	if !s.service.SMTPConfigured() {
		response["devVerificationToken"] = verificationToken
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.Accounts().SignIn(r.Context(), body.Email, body.Password, body.Role)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrEmailNotVerified):
			writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		case errors.Is(err, authpw.ErrAccountInactive):
			writeError(w, http.StatusForbidden, "ACCOUNT_INACTIVE", "This account has been deactivated", nil)
		default:
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return
	}

	session, err := s.service.CreateSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Accounts().VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", "Invalid or expired verification token", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, _ := s.service.ResendVerification(r.Context(), body.Email)

	response := map[string]any{
		"message": "If an unverified account exists, a verification email has been sent",
	}
	if !s.service.SMTPConfigured() && token != "" {
		response["devVerificationToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, _ := s.service.ForgotPassword(r.Context(), body.Email)

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if !s.service.SMTPConfigured() && token != "" {
		response["devResetToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Accounts().ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Phone    string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.Accounts().AcceptInvitation(r.Context(), authpw.AcceptInvitationRequest{
		Token:    body.Token,
		Password: body.Password,
		Name:     body.Name,
		Phone:    body.Phone,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidInvitation) {
			writeError(w, http.StatusBadRequest, "INVALID_INVITATION", "Invalid or expired invitation", nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, session Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":   session.UserID,
		"userName": session.UserName,
		"email":    session.Email,
		"role":     session.Role,
	})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Accounts().ChangePassword(r.Context(), session.UserID, body.CurrentPassword, body.NewPassword); err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusForbidden, "INVALID_CREDENTIALS", "Current password is incorrect", nil)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name        string `json:"name"`
		CompanyName string `json:"companyName"`
		Phone       string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.Accounts().UpdateProfile(r.Context(), session.UserID, body.Name, body.CompanyName, body.Phone)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, userPayload(user))
}

// ---- supplier handlers ----

func (s *HTTPServer) handleListSuppliers(w http.ResponseWriter, r *http.Request, session Session) {
	suppliers, err := s.service.ListSuppliers(r.Context(), session)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(suppliers))
	for _, supplier := range suppliers {
		items = append(items, userPayload(supplier))
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": items})
}

func (s *HTTPServer) handleInviteSupplier(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		CompanyName string `json:"companyName"`
		Phone       string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, invitationToken, err := s.service.InviteSupplier(r.Context(), session, authpw.InviteSupplierRequest{
		Name:        body.Name,
		Email:       body.Email,
		CompanyName: body.CompanyName,
		Phone:       body.Phone,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrEmailExists) {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	response := map[string]any{"supplier": userPayload(user)}
	if !s.service.SMTPConfigured() {
		response["devInvitationToken"] = invitationToken
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleGetSupplier(w http.ResponseWriter, r *http.Request, session Session, supplierID string) {
	supplier, err := s.service.GetSupplier(r.Context(), session, supplierID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier": userPayload(supplier)})
}

// handleRemoveSupplier soft-deletes a supplier by deactivating the account.
func (s *HTTPServer) handleRemoveSupplier(w http.ResponseWriter, r *http.Request, session Session, supplierID string) {
	supplier, err := s.service.SetSupplierStatus(r.Context(), session, supplierID, store.UserInactive)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier": userPayload(supplier)})
}

func (s *HTTPServer) handleSetSupplierStatus(w http.ResponseWriter, r *http.Request, session Session, supplierID string) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	supplier, err := s.service.SetSupplierStatus(r.Context(), session, supplierID, body.Status)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier": userPayload(supplier)})
}

// ---- quotation handlers ----

func (s *HTTPServer) handleListQuotations(w http.ResponseWriter, r *http.Request, session Session) {
	statusFilter := strings.TrimSpace(r.URL.Query().Get("status"))
	supplierID := strings.TrimSpace(r.URL.Query().Get("supplierId"))
	searchTerm := strings.TrimSpace(r.URL.Query().Get("search"))
	quotations, err := s.service.ListQuotations(r.Context(), session, statusFilter, supplierID, searchTerm)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(quotations))
	for _, q := range quotations {
		items = append(items, quotationPayload(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotations": items})
}

// handleUploadQuotation accepts either a multipart PDF upload or a JSON body
// with editor HTML.
func (s *HTTPServer) handleUploadQuotation(w http.ResponseWriter, r *http.Request, session Session) {
	input := UploadQuotationInput{}

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
			return
		}
		input.ProjectNumber = r.FormValue("projectNumber")
		input.DocumentNumber = r.FormValue("documentNumber")
		input.Title = r.FormValue("title")

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
			return
		}
		defer file.Close()
		if header.Size > maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the 10 MB limit", nil)
			return
		}
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
			return
		}
		if len(data) > maxUploadBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the 10 MB limit", nil)
			return
		}
		input.FileName = header.Filename
		input.FileData = data
	} else {
		var body struct {
			ProjectNumber  string `json:"projectNumber"`
			DocumentNumber string `json:"documentNumber"`
			Title          string `json:"title"`
			HTMLContent    string `json:"htmlContent"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		input.ProjectNumber = body.ProjectNumber
		input.DocumentNumber = body.DocumentNumber
		input.Title = body.Title
		input.HTMLContent = body.HTMLContent
	}

	q, err := s.service.UploadQuotation(r.Context(), session, input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"quotation": quotationPayload(q)})
}

func (s *HTTPServer) handleGetQuotation(w http.ResponseWriter, r *http.Request, session Session, id string) {
	q, err := s.service.GetQuotation(r.Context(), session, id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotation": quotationPayload(q)})
}

func (s *HTTPServer) handleAnnotate(w http.ResponseWriter, r *http.Request, session Session, id string) {
	var body struct {
		Comment     string          `json:"comment"`
		Annotations json.RawMessage `json:"annotations"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	// An absent or null annotations value leaves the stored set untouched;
	// only a real array (including an empty one) replaces it.
	hasAnnotations := len(body.Annotations) > 0 && !bytes.Equal(body.Annotations, []byte("null"))
	q, err := s.service.Annotate(r.Context(), session, id, AnnotateInput{
		Comment:        body.Comment,
		Annotations:    body.Annotations,
		HasAnnotations: hasAnnotations,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotation": quotationPayload(q)})
}

func (s *HTTPServer) handleRequestChanges(w http.ResponseWriter, r *http.Request, session Session, id string) {
	var body struct {
		Comment string `json:"comment"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	q, err := s.service.RequestChanges(r.Context(), session, id, body.Comment)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotation": quotationPayload(q)})
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request, session Session, id string) {
	q, err := s.service.Approve(r.Context(), session, id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotation": quotationPayload(q)})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session, id string) {
	entries, err := s.service.History(r.Context(), session, id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request, session Session) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	entries, err := s.service.Activity(r.Context(), session, limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}

func (s *HTTPServer) handleHTMLContent(w http.ResponseWriter, r *http.Request, session Session, id string) {
	html, err := s.service.HTMLContent(r.Context(), session, id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"htmlContent": html})
}

func (s *HTTPServer) handleNextVersion(w http.ResponseWriter, r *http.Request, session Session, id string) {
	label, err := s.service.NextVersionLabel(r.Context(), session, id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nextVersion": label})
}

func (s *HTTPServer) handleStatistics(w http.ResponseWriter, r *http.Request, session Session) {
	stats, err := s.service.Statistics(r.Context(), session)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	statusFilter := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}
	response, err := s.service.Search(r.Context(), session, q, statusFilter, limit, offset)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if name == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	data, contentType, err := s.service.ReadUpload(r.Context(), name)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ---- plumbing ----

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, blob.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, quote.ErrApproved) {
		return http.StatusConflict, "QUOTATION_APPROVED", "Approved quotations cannot be modified", nil
	}
	if errors.Is(err, quote.ErrNoVersions) {
		return http.StatusConflict, "NO_VERSIONS", "Quotation has no versions", nil
	}
	if errors.Is(err, store.ErrStaleQuotation) {
		return http.StatusConflict, "CONFLICT", "Quotation was modified concurrently, please retry", nil
	}
	if errors.Is(err, store.ErrDuplicateDocumentNumber) {
		return http.StatusConflict, "DUPLICATE_DOCUMENT_NUMBER", "A quotation with this document number already exists", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func userPayload(u store.User) map[string]any {
	payload := map[string]any{
		"id":          u.ID,
		"name":        u.Name,
		"email":       u.Email,
		"role":        u.Role,
		"companyName": u.CompanyName,
		"phone":       u.Phone,
		"status":      u.Status,
		"createdAt":   u.CreatedAt.Format(time.RFC3339),
	}
	if u.OnboardedBy != nil {
		payload["onboardedBy"] = *u.OnboardedBy
	}
	return payload
}
