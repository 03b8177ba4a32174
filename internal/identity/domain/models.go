package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIToken is a bearer credential scoped to one tenant and one finance
// role. Only the bcrypt hash of the secret is stored; the plaintext is
// shown once at creation.
type APIToken struct {
	ID         snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	TenantID   snowflake.ID `gorm:"column:tenant_id;index" json:"tenant_id"`
	Name       string       `gorm:"column:name" json:"name"`
	Role       string       `gorm:"column:role" json:"role"`
	SecretHash string       `gorm:"column:secret_hash" json:"-"`
	CreatedAt  time.Time    `gorm:"column:created_at" json:"created_at"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at" json:"last_used_at,omitempty"`
	RevokedAt  *time.Time   `gorm:"column:revoked_at" json:"revoked_at,omitempty"`
}

func (APIToken) TableName() string {
	return "api_tokens"
}

// Identity is the resolved (tenant, role) pair for a presented bearer
// token.
type Identity struct {
	TenantID snowflake.ID
	TokenID  snowflake.ID
	Role     string
}

type CreateTokenRequest struct {
	Name string `json:"name" binding:"required"`
	Role string `json:"role" binding:"required"`
}

// CreateTokenResponse carries the one-time plaintext token in the form
// "<id>.<secret>".
type CreateTokenResponse struct {
	Token     APIToken `json:"token"`
	Plaintext string   `json:"plaintext"`
}

type Service interface {
	Resolve(ctx context.Context, bearer string) (*Identity, error)
	Create(ctx context.Context, req CreateTokenRequest) (*CreateTokenResponse, error)
	Revoke(ctx context.Context, tokenID snowflake.ID) error
}

var (
	ErrInvalidToken  = errors.New("invalid_token")
	ErrTokenRevoked  = errors.New("token_revoked")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrTokenNotFound = errors.New("token_not_found")
)
