package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quoteflow/api/internal/quote"
	"quoteflow/api/internal/store"
)

func newTestHandler(t *testing.T) (*testEnv, http.Handler) {
	t.Helper()
	env := newTestEnv(t)
	server := NewHTTPServer(env.service, "*")
	return env, server.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func loginToken(t *testing.T, env *testEnv, handler http.Handler, email, password, role string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password, "role": role,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	return decodeJSON(t, rec)["accessToken"].(string)
}

func TestHealthAndReady(t *testing.T) {
	_, handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["status"] != "ready" {
		t.Fatalf("ready body = %v", body)
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	_, handler := newTestHandler(t)

	for _, path := range []string{"/api/quotations", "/api/auth/me", "/api/search"} {
		rec := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d, want 401", path, rec.Code)
		}
		body := decodeJSON(t, rec)
		if body["code"] != "UNAUTHORIZED" {
			t.Fatalf("GET %s code = %v", path, body["code"])
		}
	}
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	env, handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Nora New", "email": "nora@example.com", "password": "s3cret-pass", "companyName": "Acme",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	// No SMTP in tests, so the verification token is surfaced directly.
	token, _ := body["devVerificationToken"].(string)
	if token == "" {
		t.Fatalf("devVerificationToken missing: %v", body)
	}

	// Unverified accounts cannot sign in yet.
	rec = doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "nora@example.com", "password": "s3cret-pass",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pre-verification login status = %d", rec.Code)
	}
	if decodeJSON(t, rec)["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("unexpected code: %s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body.String())
	}

	access := loginToken(t, env, handler, "nora@example.com", "s3cret-pass", "buyer")
	rec = doJSON(t, handler, http.MethodGet, "/api/auth/me", access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	me := decodeJSON(t, rec)
	if me["email"] != "nora@example.com" || me["role"] != "buyer" {
		t.Fatalf("me = %v", me)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	_, handler := newTestHandler(t)

	payload := map[string]string{"name": "Dup", "email": "dup@example.com", "password": "s3cret-pass"}
	if rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", payload); rec.Code != http.StatusCreated {
		t.Fatalf("first register status = %d", rec.Code)
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", "", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second register status = %d", rec.Code)
	}
	if decodeJSON(t, rec)["code"] != "EMAIL_EXISTS" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestInvitationAcceptFlow(t *testing.T) {
	env, handler := newTestHandler(t)
	buyerToken := sessionTokenFor(t, env, env.buyer)

	rec := doJSON(t, handler, http.MethodPost, "/api/suppliers", buyerToken, map[string]string{
		"name": "Vera Vendor", "email": "vera@example.com", "companyName": "Vendor GmbH",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite status = %d: %s", rec.Code, rec.Body.String())
	}
	invitation, _ := decodeJSON(t, rec)["devInvitationToken"].(string)
	if invitation == "" {
		t.Fatalf("devInvitationToken missing")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/accept-invitation", "", map[string]string{
		"token": invitation, "password": "s3cret-pass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["role"] != "seller" || body["accessToken"] == "" {
		t.Fatalf("accept body = %v", body)
	}

	// The accepted seller can sign straight in.
	loginToken(t, env, handler, "vera@example.com", "s3cret-pass", "seller")
}

func sessionTokenFor(t *testing.T, env *testEnv, user store.User) string {
	t.Helper()
	sess, err := env.service.CreateSession(context.Background(), user)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess.Token
}

func multipartUpload(t *testing.T, handler http.Handler, token, documentNumber string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("projectNumber", "P-900")
	_ = mw.WriteField("documentNumber", documentNumber)
	_ = mw.WriteField("title", "Compressor package")
	part, err := mw.CreateFormFile("file", "quote.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(pdfBytes); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/quotations", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestQuotationReviewOverHTTP(t *testing.T) {
	env, handler := newTestHandler(t)
	sellerToken := sessionTokenFor(t, env, env.seller)
	buyerToken := sessionTokenFor(t, env, env.buyer)

	rec := multipartUpload(t, handler, sellerToken, "DOC-HTTP-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON(t, rec)["quotation"].(map[string]any)
	id := created["id"].(string)
	if created["currentVersion"] != "REV.A" || created["status"] != "Submitted" {
		t.Fatalf("created = %v", created)
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/quotations/%s/annotate", id), buyerToken, map[string]any{
		"comment":     "Please confirm lead time",
		"annotations": []map[string]any{{"page": 1, "x": 5, "y": 7}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("annotate status = %d: %s", rec.Code, rec.Body.String())
	}
	annotated := decodeJSON(t, rec)["quotation"].(map[string]any)
	if annotated["status"] != "Under Review" {
		t.Fatalf("annotated = %v", annotated)
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/quotations/%s/approve", id), buyerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d: %s", rec.Code, rec.Body.String())
	}
	approved := decodeJSON(t, rec)["quotation"].(map[string]any)
	if approved["status"] != "Approved" || approved["approvedBy"] != env.buyer.ID {
		t.Fatalf("approved = %v", approved)
	}

	// Uploading another revision after approval is a conflict.
	rec = multipartUpload(t, handler, sellerToken, "DOC-HTTP-1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("post-approval upload status = %d: %s", rec.Code, rec.Body.String())
	}
	if decodeJSON(t, rec)["code"] != "QUOTATION_APPROVED" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	// The seller cannot approve.
	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/quotations/%s/approve", id), sellerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("seller approve status = %d", rec.Code)
	}

	// History is visible to both parties, newest first.
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/quotations/%s/history", id), sellerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	history := decodeJSON(t, rec)["history"].([]any)
	if len(history) < 3 {
		t.Fatalf("history entries = %d", len(history))
	}
	first := history[0].(map[string]any)
	if first["action"] != "approved" {
		t.Fatalf("latest action = %v", first["action"])
	}
}

func TestAnnotateNullAnnotationsLeavesSetUntouched(t *testing.T) {
	env, handler := newTestHandler(t)
	sellerToken := sessionTokenFor(t, env, env.seller)
	buyerToken := sessionTokenFor(t, env, env.buyer)

	rec := multipartUpload(t, handler, sellerToken, "DOC-HTTP-3")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	id := decodeJSON(t, rec)["quotation"].(map[string]any)["id"].(string)

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/quotations/%s/annotate", id), buyerToken, map[string]any{
		"annotations": []map[string]any{{"page": 1, "x": 5, "y": 7}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("annotate status = %d: %s", rec.Code, rec.Body.String())
	}

	// A comment-only request serializes annotations as an explicit null; the
	// stored set must survive it.
	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/quotations/%s/annotate", id), buyerToken, map[string]any{
		"comment":     "looks fine",
		"annotations": nil,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("comment-only annotate status = %d: %s", rec.Code, rec.Body.String())
	}

	stored := env.store.quotations[id]
	if got := len(stored.Latest().Annotations); got != 1 {
		t.Fatalf("stored annotations = %d, want 1", got)
	}
	saves := 0
	for _, entry := range stored.History {
		if entry.Action == quote.ActionAnnotationsSaved {
			saves++
		}
	}
	if saves != 1 {
		t.Fatalf("annotations_saved entries = %d, want 1", saves)
	}
}

func TestServeUploadedPDF(t *testing.T) {
	env, handler := newTestHandler(t)
	sellerToken := sessionTokenFor(t, env, env.seller)

	rec := multipartUpload(t, handler, sellerToken, "DOC-HTTP-2")
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}
	created := decodeJSON(t, rec)["quotation"].(map[string]any)
	versions := created["versions"].([]any)
	pdfURL := versions[0].(map[string]any)["pdfUrl"].(string)

	req := httptest.NewRequest(http.MethodGet, pdfURL, nil)
	req.Header.Set("Authorization", "Bearer "+sellerToken)
	got := httptest.NewRecorder()
	handler.ServeHTTP(got, req)
	if got.Code != http.StatusOK {
		t.Fatalf("serve status = %d: %s", got.Code, got.Body.String())
	}
	if ct := got.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %s", ct)
	}
	if !bytes.Equal(got.Body.Bytes(), pdfBytes) {
		t.Fatalf("served bytes differ")
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	env, handler := newTestHandler(t)
	token := sessionTokenFor(t, env, env.buyer)

	rec := doJSON(t, handler, http.MethodGet, "/api/nope", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "NOT_FOUND") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRequestIDPropagation(t *testing.T) {
	_, handler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("request id = %q", got)
	}
}
