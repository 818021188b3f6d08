package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"infikar/internal/database"
	"infikar/internal/entitlement"
)

// AccountHandler 提供当前用户资料、权益与套餐目录。
type AccountHandler struct {
	db       *gorm.DB
	resolver *entitlement.Resolver
}

// NewAccountHandler 构造账号处理器。
func NewAccountHandler(db *gorm.DB, resolver *entitlement.Resolver) *AccountHandler {
	return &AccountHandler{db: db, resolver: resolver}
}

// GetMe 返回当前用户资料与订阅状态。
func (h *AccountHandler) GetMe(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortUnauthorized(c)
			return
		}
		Internal(c, "internal error")
		return
	}

	now := time.Now()
	if h.resolver != nil && h.resolver.Now != nil {
		now = h.resolver.Now()
	}
	Success(c, http.StatusOK, gin.H{
		"user": gin.H{
			"username":            user.Username,
			"email":               user.Email,
			"bio":                 user.Bio,
			"avatar_key":          user.AvatarKey,
			"subscription_tier":   user.SubscriptionTier,
			"subscription_status": entitlement.SubscriptionStatus(&user, now),
			"trial_end_date":      user.TrialEndDate,
		},
	})
}

type updateMeRequest struct {
	Bio       *string `json:"bio" binding:"omitempty,max=1000"`
	AvatarKey *string `json:"avatar_key" binding:"omitempty,max=512"`
}

// UpdateMe 更新个人资料。用户名不可更改。
func (h *AccountHandler) UpdateMe(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if req.AvatarKey != nil && *req.AvatarKey != "" && !isValidUserAssetObjectKey(userID, *req.AvatarKey) {
		BadRequest(c, "invalid avatar key")
		return
	}

	updates := map[string]any{}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.AvatarKey != nil {
		updates["avatar_key"] = *req.AvatarKey
	}
	if len(updates) > 0 {
		if err := h.db.WithContext(c.Request.Context()).
			Model(&database.User{}).
			Where("id = ?", userID).
			Updates(updates).Error; err != nil {
			Internal(c, "internal error")
			return
		}
	}
	Success(c, http.StatusOK, nil)
}

// GetEntitlements 返回当前用户解析后的权益快照。
func (h *AccountHandler) GetEntitlements(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ents, err := h.resolver.ResolveUserID(c.Request.Context(), h.db, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortUnauthorized(c)
			return
		}
		Internal(c, "internal error")
		return
	}

	Success(c, http.StatusOK, gin.H{
		"entitlements": gin.H{
			"card_limit":           ents.CardLimit,
			"social_links_limit":   ents.SocialLinksLimit,
			"picks_limit":          ents.PicksLimit,
			"can_save_drafts":      ents.CanSaveDrafts,
			"can_hide_cards":       ents.CanHideCards,
			"has_analytics":        ents.HasAnalytics,
			"has_custom_templates": ents.HasCustomTemplates,
			"has_auto_fetch":       ents.HasAutoFetch,
			"has_youtube_api":      ents.HasYouTubeAPI,
		},
	})
}

type planListItem struct {
	ID                uint   `json:"id"`
	Name              string `json:"name"`
	PlanType          string `json:"plan_type"`
	BillingCycle      string `json:"billing_cycle"`
	CardLimit         int    `json:"card_limit"`
	SocialLinksLimit  int    `json:"social_links_limit"`
	PicksLimit        int    `json:"picks_limit"`
	PriceMonthlyCents *int64 `json:"price_monthly_cents,omitempty"`
	PriceYearlyCents  *int64 `json:"price_yearly_cents,omitempty"`
	TrialDays         int    `json:"trial_days,omitempty"`

	CanSaveDrafts      bool `json:"can_save_drafts"`
	CanHideCards       bool `json:"can_hide_cards"`
	HasAnalytics       bool `json:"has_analytics"`
	HasCustomTemplates bool `json:"has_custom_templates"`
	HasAutoFetch       bool `json:"has_auto_fetch"`
	HasYouTubeAPI      bool `json:"has_youtube_api"`
}

// ListPlans 返回可订阅的套餐目录。公开端点，定价页使用。
func (h *AccountHandler) ListPlans(c *gin.Context) {
	var plans []database.SubscriptionPlan
	if err := h.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&plans).Error; err != nil {
		Internal(c, "failed to list plans")
		return
	}

	items := make([]planListItem, 0, len(plans))
	for _, p := range plans {
		items = append(items, planListItem{
			ID:                 p.ID,
			Name:               p.Name,
			PlanType:           p.PlanType,
			BillingCycle:       p.BillingCycle,
			CardLimit:          p.CardLimit,
			SocialLinksLimit:   p.SocialLinksLimit,
			PicksLimit:         p.PicksLimit,
			PriceMonthlyCents:  p.PriceMonthlyCents,
			PriceYearlyCents:   p.PriceYearlyCents,
			TrialDays:          p.TrialDays,
			CanSaveDrafts:      p.CanSaveDrafts,
			CanHideCards:       p.CanHideCards,
			HasAnalytics:       p.HasAnalytics,
			HasCustomTemplates: p.HasCustomTemplates,
			HasAutoFetch:       p.HasAutoFetch,
			HasYouTubeAPI:      p.HasYouTubeAPI,
		})
	}
	Success(c, http.StatusOK, gin.H{"plans": items})
}
