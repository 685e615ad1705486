package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	TouchLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TokenIssuer signs access tokens; *auth.Authenticator satisfies it.
type TokenIssuer interface {
	IssueToken(subject string, roles []string) (string, time.Time, error)
}
