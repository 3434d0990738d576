package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-tracking-system/models"
)

// UserService maintains the tenant-scoped user rows the claim path reads. The
// upsert here is the out-of-band write path; the claim transaction only ever
// creates the referred side lazily.
type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// UpsertRequest is the inbound body for the user upsert endpoint.
type UpsertRequest struct {
	ExternalUserID string `json:"externalUserId"`
	Username       string `json:"username"`
	Tier           string `json:"tier"`
}

// Upsert creates or refreshes a user. A new user gets a referral code derived
// from their username; existing users keep the code they already handed out.
func (s *UserService) Upsert(ctx context.Context, tenantID string, req UpsertRequest) (*models.User, error) {
	if req.ExternalUserID == "" || len(req.ExternalUserID) > maxExternalIDLength {
		return nil, errInvalidRequest("externalUserId is required and must be at most 128 characters")
	}

	tier := strings.ToLower(strings.TrimSpace(req.Tier))
	if tier == "" {
		tier = DefaultTier
	}

	user := models.User{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ExternalUserID: req.ExternalUserID,
		Username:       req.Username,
		Tier:           tier,
		ReferralCode:   GenerateReferralCode(req.Username),
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "tier", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", req.ExternalUserID, err)
	}

	// Read back so the caller always sees the persisted row (the original
	// referral code on conflict, not the freshly generated one).
	var persisted models.User
	if err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND external_user_id = ?", tenantID, req.ExternalUserID).
		First(&persisted).Error; err != nil {
		return nil, fmt.Errorf("read back user %s: %w", req.ExternalUserID, err)
	}
	return &persisted, nil
}

// GenerateReferralCode builds a unique-enough, human-shareable code. The
// username slug keeps it recognizable; the random suffix keeps it unique per
// tenant (backed by the unique index, which would reject a collision).
func GenerateReferralCode(username string) string {
	base := strings.ToUpper(slug.Make(username))
	if base == "" {
		base = "REF"
	}
	if len(base) > 12 {
		base = base[:12]
	}
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return base + "-" + suffix
}
