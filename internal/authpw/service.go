// Package authpw provides email/password authentication and account
// provisioning: buyer self-registration, invitation-based supplier
// onboarding, email verification, and password reset.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"quoteflow/api/internal/store"
	"quoteflow/api/internal/util"
)

const (
	invitationTTL   = 7 * 24 * time.Hour
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour
)

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidInvitation  = errors.New("invalid or expired invitation")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrInvalidVerifyToken = errors.New("invalid or expired verification token")
)

// UserStore is the slice of the data store this package needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByInvitationToken(ctx context.Context, token string) (store.User, error)
	GetUserByVerificationToken(ctx context.Context, token string) (store.User, error)
	GetUserByResetToken(ctx context.Context, token string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SaveUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
	now   func() time.Time
}

func NewService(userStore UserStore) *Service {
	return &Service{store: userStore, now: time.Now}
}

type RegisterRequest struct {
	Name        string
	Email       string
	Password    string
	CompanyName string
	Phone       string
}

type RegisterResult struct {
	User store.User
	// VerificationToken is surfaced so the caller can email it (or return it
	// directly when email is not configured).
	VerificationToken string
}

// Register creates a buyer account. Sellers cannot self-register; they join
// through a buyer invitation.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if name == "" || email == "" || req.Password == "" {
		return nil, errors.New("name, email, and password are required")
	}
	if len(req.Password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	verificationToken, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now()
	verifyExpires := now.Add(verificationTTL)
	user := store.User{
		ID:                    util.NewID("usr"),
		Name:                  name,
		Email:                 email,
		PasswordHash:          string(hash),
		Role:                  store.RoleBuyer,
		CompanyName:           strings.TrimSpace(req.CompanyName),
		Phone:                 strings.TrimSpace(req.Phone),
		Status:                store.UserActive,
		VerificationToken:     verificationToken,
		VerificationExpiresAt: &verifyExpires,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailExists
		}
		return nil, err
	}

	return &RegisterResult{User: user, VerificationToken: verificationToken}, nil
}

type InviteSupplierRequest struct {
	Name        string
	Email       string
	CompanyName string
	Phone       string
}

type InviteResult struct {
	User            store.User
	InvitationToken string
}

// InviteSupplier creates an invited seller account onboarded by the given
// buyer. The account cannot sign in until the invitation is accepted.
func (s *Service) InviteSupplier(ctx context.Context, buyerID string, req InviteSupplierRequest) (*InviteResult, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if name == "" || email == "" {
		return nil, errors.New("name and email are required")
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate invitation token: %w", err)
	}

	now := s.now()
	expires := now.Add(invitationTTL)
	user := store.User{
		ID:                  util.NewID("usr"),
		Name:                name,
		Email:               email,
		Role:                store.RoleSeller,
		CompanyName:         strings.TrimSpace(req.CompanyName),
		Phone:               strings.TrimSpace(req.Phone),
		Status:              store.UserInvited,
		OnboardedBy:         &buyerID,
		InvitationToken:     token,
		InvitationExpiresAt: &expires,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailExists
		}
		return nil, err
	}

	return &InviteResult{User: user, InvitationToken: token}, nil
}

type AcceptInvitationRequest struct {
	Token    string
	Password string
	Name     string
	Phone    string
}

// AcceptInvitation activates an invited seller account. The invitation was
// delivered to the seller's mailbox, so the email counts as verified.
func (s *Service) AcceptInvitation(ctx context.Context, req AcceptInvitationRequest) (store.User, error) {
	if req.Token == "" || req.Password == "" {
		return store.User{}, errors.New("token and password are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	user, err := s.store.GetUserByInvitationToken(ctx, req.Token)
	if err != nil {
		return store.User{}, ErrInvalidInvitation
	}
	if user.InvitationExpiresAt == nil || s.now().After(*user.InvitationExpiresAt) {
		return store.User{}, ErrInvalidInvitation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.Status = store.UserActive
	user.IsEmailVerified = true
	user.InvitationToken = ""
	user.InvitationExpiresAt = nil
	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		user.Phone = phone
	}
	if err := s.store.SaveUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

// SignIn authenticates a user. The requested role must match the account's
// role so a seller cannot log into the buyer console and vice versa.
func (s *Service) SignIn(ctx context.Context, email, password, role string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if role != "" && user.Role != role {
		return store.User{}, ErrInvalidCredentials
	}
	if user.Status == store.UserInactive {
		return store.User{}, ErrAccountInactive
	}
	if user.Status == store.UserInvited || user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.IsEmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return user, nil
}

// VerifyEmail marks the account verified and burns the token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidVerifyToken
	}
	user, err := s.store.GetUserByVerificationToken(ctx, token)
	if err != nil {
		return ErrInvalidVerifyToken
	}
	if user.VerificationExpiresAt == nil || s.now().After(*user.VerificationExpiresAt) {
		return ErrInvalidVerifyToken
	}
	user.IsEmailVerified = true
	user.VerificationToken = ""
	user.VerificationExpiresAt = nil
	return s.store.SaveUser(ctx, user)
}

// ResendVerification issues a fresh verification token for an unverified
// account.
func (s *Service) ResendVerification(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil || user.IsEmailVerified {
		// Nothing to send; do not reveal whether the account exists.
		return "", nil
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	expires := s.now().Add(verificationTTL)
	user.VerificationToken = token
	user.VerificationExpiresAt = &expires
	if err := s.store.SaveUser(ctx, user); err != nil {
		return "", err
	}
	return token, nil
}

// RequestPasswordReset creates a reset token. It succeeds with an empty
// token when the account does not exist, so callers can answer uniformly.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", store.User{}, nil
	}
	token, err := generateToken()
	if err != nil {
		return "", store.User{}, err
	}
	expires := s.now().Add(resetTTL)
	user.ResetToken = token
	user.ResetExpiresAt = &expires
	if err := s.store.SaveUser(ctx, user); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

// ResetPassword sets a new password using a reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return errors.New("token and new password are required")
	}
	if len(newPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	user, err := s.store.GetUserByResetToken(ctx, token)
	if err != nil {
		return ErrInvalidResetToken
	}
	if user.ResetExpiresAt == nil || s.now().After(*user.ResetExpiresAt) {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.ResetToken = ""
	user.ResetExpiresAt = nil
	return s.store.SaveUser(ctx, user)
}

// ChangePassword rotates the password for a signed-in user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	return s.store.SaveUser(ctx, user)
}

// UpdateProfile changes the mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, userID, name, companyName, phone string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		user.Name = trimmed
	}
	user.CompanyName = strings.TrimSpace(companyName)
	user.Phone = strings.TrimSpace(phone)
	if err := s.store.SaveUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
