// Package tenancy manages firms, their members and invitations.
package tenancy

import (
	"context"
	"time"

	"lexintake.org/internal/auth"
)

// Store persists tenancy records. Implementations return auth.ErrNotFound for
// missing rows and auth.ErrConflict for uniqueness violations.
type Store interface {
	CreateFirm(ctx context.Context, firm auth.Firm) (auth.Firm, error)
	FirmByID(ctx context.Context, id string) (auth.Firm, error)
	ListFirms(ctx context.Context) ([]auth.Firm, error)
	UpdateFirm(ctx context.Context, id string, upd auth.FirmUpdate) (auth.Firm, error)

	CreateProfile(ctx context.Context, profile auth.Profile) (auth.Profile, error)
	ProfileByID(ctx context.Context, id string) (auth.Profile, error)
	ProfileByIdentity(ctx context.Context, identityID string) (auth.Profile, error)
	ListProfilesByFirm(ctx context.Context, firmID string) ([]auth.Profile, error)
	UpdateProfile(ctx context.Context, id string, upd auth.ProfileUpdate) (auth.Profile, error)

	CreateInvitation(ctx context.Context, inv auth.Invitation) (auth.Invitation, error)
	ListInvitations(ctx context.Context, firmID string) ([]auth.Invitation, error)
	PendingInvitationForEmail(ctx context.Context, email string) (auth.Invitation, error)
	AcceptInvitation(ctx context.Context, id string, at time.Time) error
}
