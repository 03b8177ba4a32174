package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/wipline/internal/audit/domain"
	"github.com/smallbiznis/wipline/internal/audit/masking"
	"github.com/smallbiznis/wipline/internal/clock"
	identitydomain "github.com/smallbiznis/wipline/internal/identity/domain"
	"github.com/smallbiznis/wipline/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var validRoles = map[string]struct{}{
	tenantctx.RolePartner:         {},
	tenantctx.RoleFinanceDirector: {},
	tenantctx.RoleStaffAccountant: {},
	tenantctx.RoleProjectManager:  {},
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func NewService(p Params) identitydomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("identity.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

// Resolve validates a "<id>.<secret>" bearer token against its stored
// bcrypt hash and returns the (tenant, role) pair.
func (s *Service) Resolve(ctx context.Context, bearer string) (*identitydomain.Identity, error) {
	bearer = strings.TrimSpace(bearer)
	idRaw, secret, found := strings.Cut(bearer, ".")
	if !found || idRaw == "" || secret == "" {
		return nil, identitydomain.ErrInvalidToken
	}

	tokenID, err := snowflake.ParseString(idRaw)
	if err != nil || tokenID == 0 {
		return nil, identitydomain.ErrInvalidToken
	}

	var tokens []identitydomain.APIToken
	if err := s.db.WithContext(ctx).Where("id = ?", tokenID).Find(&tokens).Error; err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, identitydomain.ErrInvalidToken
	}
	token := tokens[0]

	if token.RevokedAt != nil {
		return nil, identitydomain.ErrTokenRevoked
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return nil, identitydomain.ErrInvalidToken
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).
		Model(&identitydomain.APIToken{}).
		Where("id = ?", token.ID).
		Update("last_used_at", now).Error; err != nil {
		// Bookkeeping only; resolution still succeeds.
		s.log.Warn("failed to touch token last_used_at", zap.Error(err))
	}

	return &identitydomain.Identity{
		TenantID: token.TenantID,
		TokenID:  token.ID,
		Role:     token.Role,
	}, nil
}

func (s *Service) Create(ctx context.Context, req identitydomain.CreateTokenRequest) (*identitydomain.CreateTokenResponse, error) {
	tenantIDRaw, ok := tenantctx.TenantID(ctx)
	if !ok || tenantIDRaw == 0 {
		return nil, identitydomain.ErrInvalidTenant
	}
	tenantID := snowflake.ID(tenantIDRaw)

	role := strings.ToLower(strings.TrimSpace(req.Role))
	if _, ok := validRoles[role]; !ok {
		return nil, identitydomain.ErrInvalidRole
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	token := identitydomain.APIToken{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		Name:       strings.TrimSpace(req.Name),
		Role:       role,
		SecretHash: string(hash),
		CreatedAt:  s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
		return nil, err
	}

	plaintext := token.ID.String() + "." + secret
	s.auditTokenEvent(ctx, tenantID, "api_token.created", token, plaintext)

	return &identitydomain.CreateTokenResponse{
		Token:     token,
		Plaintext: plaintext,
	}, nil
}

func (s *Service) Revoke(ctx context.Context, tokenID snowflake.ID) error {
	tenantIDRaw, ok := tenantctx.TenantID(ctx)
	if !ok || tenantIDRaw == 0 {
		return identitydomain.ErrInvalidTenant
	}
	tenantID := snowflake.ID(tenantIDRaw)

	res := s.db.WithContext(ctx).
		Model(&identitydomain.APIToken{}).
		Where("tenant_id = ? AND id = ? AND revoked_at IS NULL", tenantID, tokenID).
		Update("revoked_at", s.clock.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identitydomain.ErrTokenNotFound
	}

	s.auditTokenEvent(ctx, tenantID, "api_token.revoked", identitydomain.APIToken{ID: tokenID}, "")
	return nil
}

func (s *Service) auditTokenEvent(ctx context.Context, tenantID snowflake.ID, action string, token identitydomain.APIToken, plaintext string) {
	if s.auditSvc == nil {
		return
	}
	targetID := token.ID.String()
	metadata := map[string]any{
		"name": token.Name,
		"role": token.Role,
	}
	if plaintext != "" {
		metadata["token"] = masking.MaskSecret(plaintext)
	}
	_ = s.auditSvc.AuditLog(ctx, &tenantID, "", nil, action, "api_token", &targetID, metadata)
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
