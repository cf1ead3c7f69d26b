package store

import "time"

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

const (
	UserActive   = "active"
	UserInvited  = "invited"
	UserInactive = "inactive"
)

// User is an account row. Buyers review quotations; sellers submit them.
// A seller account is created by a buyer invitation and keeps a pointer to
// the buyer that onboarded it, which drives quotation visibility.
type User struct {
	ID                    string
	Name                  string
	Email                 string
	PasswordHash          string
	Role                  string
	CompanyName           string
	Phone                 string
	Status                string
	OnboardedBy           *string
	InvitationToken       string
	InvitationExpiresAt   *time.Time
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	ResetToken            string
	ResetExpiresAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// QuotationFilter narrows ListQuotations. Zero values mean "no constraint".
type QuotationFilter struct {
	// CreatedBy restricts to a single creator (the seller's own scope, or a
	// buyer filtering by supplier).
	CreatedBy string
	// OnboardedBy restricts to quotations whose creator was onboarded by
	// this buyer.
	OnboardedBy string
	Status      string
	// Search matches project number, document number, or title.
	Search string
}
