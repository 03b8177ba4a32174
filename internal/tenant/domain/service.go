package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateTenantRequest struct {
	Name     string `json:"name" binding:"required"`
	Currency string `json:"currency"`
}

type Service interface {
	Create(ctx context.Context, req CreateTenantRequest) (*Tenant, error)
	Get(ctx context.Context, id snowflake.ID) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
}

var (
	ErrTenantNotFound = errors.New("tenant_not_found")
	ErrInvalidName    = errors.New("invalid_tenant_name")
)
