package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	tenantdomain "github.com/smallbiznis/wipline/internal/tenant/domain"
	"github.com/smallbiznis/wipline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  repository.Repository[tenantdomain.Tenant]
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  repository.Repository[tenantdomain.Tenant]
}

func NewService(p Params) tenantdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req tenantdomain.CreateTenantRequest) (*tenantdomain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, tenantdomain.ErrInvalidName
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "PHP"
	}

	tenantSlug, err := s.uniqueSlug(ctx, name)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tenant := &tenantdomain.Tenant{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      tenantSlug,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, tenant); err != nil {
		return nil, err
	}

	s.log.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
	)
	return tenant, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	tenant, err := s.repo.FindOne(ctx, &tenantdomain.Tenant{ID: id})
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) GetBySlug(ctx context.Context, slugValue string) (*tenantdomain.Tenant, error) {
	slugValue = strings.TrimSpace(slugValue)
	if slugValue == "" {
		return nil, tenantdomain.ErrTenantNotFound
	}
	tenant, err := s.repo.FindOne(ctx, &tenantdomain.Tenant{Slug: slugValue})
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slug.Make(name)
	candidate := base
	for attempt := 1; attempt < 10; attempt++ {
		existing, err := s.repo.FindOne(ctx, &tenantdomain.Tenant{Slug: candidate})
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt+1)
	}
	// Slug space exhausted for this name, fall back to an id suffix.
	return fmt.Sprintf("%s-%s", base, s.genID.Generate().String()), nil
}
