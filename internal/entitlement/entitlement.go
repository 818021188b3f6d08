// Package entitlement 根据订阅状态计算用户当前可用的限额与功能开关。
// 解析是纯读操作，只依赖传入的时间，不产生副作用。
package entitlement

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"infikar/internal/database"
)

// 免费档位常量限额。
const (
	FreeCardLimit        = 10
	FreeSocialLinksLimit = 5
	FreePicksLimit       = 50
)

// Entitlements 表示解析后的有效限额与功能开关。
// 持有 Entitlements 不代表存在有效付费套餐。
type Entitlements struct {
	CardLimit        int
	SocialLinksLimit int
	PicksLimit       int

	CanSaveDrafts      bool
	CanHideCards       bool
	HasAnalytics       bool
	HasCustomTemplates bool
	HasAutoFetch       bool
	HasYouTubeAPI      bool
}

// ProDefaults 是 Pro 用户在没有可解析套餐时的平台级默认限额。
type ProDefaults struct {
	CardLimit        int
	SocialLinksLimit int
	PicksLimit       int
}

// Free 返回免费档位的保守限额，所有功能开关关闭。
func Free() Entitlements {
	return Entitlements{
		CardLimit:        FreeCardLimit,
		SocialLinksLimit: FreeSocialLinksLimit,
		PicksLimit:       FreePicksLimit,
	}
}

// IsProUser 判断用户当前是否处于 Pro 状态。
// pro_trial 以 trial_end_date 严格大于当前时间为准，到期瞬间即失效。
func IsProUser(user *database.User, now time.Time) bool {
	switch user.SubscriptionTier {
	case database.TierPro:
		return true
	case database.TierProTrial:
		return user.TrialEndDate != nil && user.TrialEndDate.After(now)
	default:
		return false
	}
}

// SubscriptionStatus 返回当前订阅状态描述。
func SubscriptionStatus(user *database.User, now time.Time) string {
	switch user.SubscriptionTier {
	case database.TierProTrial:
		if user.TrialEndDate != nil && user.TrialEndDate.After(now) {
			return "trial"
		}
		return "trial_expired"
	case database.TierPro:
		if user.SubscriptionEndDate == nil || user.SubscriptionEndDate.After(now) {
			return "active"
		}
		return "expired"
	default:
		return "free"
	}
}

// Resolve 根据用户、已加载的订阅绑定与平台默认值计算有效权益。
// 非 Pro 用户得到免费限额；Pro 用户优先取套餐数值，套餐缺失时数值
// 回落到平台默认、功能开关保守关闭。
func Resolve(user *database.User, sub *database.UserSubscription, defaults ProDefaults, now time.Time) Entitlements {
	if !IsProUser(user, now) {
		return Free()
	}

	plan := activePlan(sub, now)
	if plan == nil {
		ents := Free()
		if defaults.CardLimit > 0 {
			ents.CardLimit = defaults.CardLimit
		}
		if defaults.SocialLinksLimit > 0 {
			ents.SocialLinksLimit = defaults.SocialLinksLimit
		}
		if defaults.PicksLimit > 0 {
			ents.PicksLimit = defaults.PicksLimit
		}
		return ents
	}

	return Entitlements{
		CardLimit:          plan.CardLimit,
		SocialLinksLimit:   plan.SocialLinksLimit,
		PicksLimit:         plan.PicksLimit,
		CanSaveDrafts:      plan.CanSaveDrafts,
		CanHideCards:       plan.CanHideCards,
		HasAnalytics:       plan.HasAnalytics,
		HasCustomTemplates: plan.HasCustomTemplates,
		HasAutoFetch:       plan.HasAutoFetch,
		HasYouTubeAPI:      plan.HasYouTubeAPI,
	}
}

func activePlan(sub *database.UserSubscription, now time.Time) *database.SubscriptionPlan {
	if sub == nil || sub.Plan.ID == 0 {
		return nil
	}
	switch sub.Status {
	case "active":
		if sub.EndDate == nil || sub.EndDate.After(now) {
			return &sub.Plan
		}
	case "trial":
		if sub.TrialEndDate != nil && sub.TrialEndDate.After(now) {
			return &sub.Plan
		}
	}
	return nil
}

// Resolver 从数据库加载订阅绑定并解析权益。
// Now 可注入，便于测试边界时间。
type Resolver struct {
	Defaults ProDefaults
	Now      func() time.Time
}

// NewResolver 构造 Resolver。
func NewResolver(defaults ProDefaults) *Resolver {
	return &Resolver{Defaults: defaults, Now: time.Now}
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// ResolveUser 对已加载的用户解析权益，订阅绑定从 db 读取。
// db 可以是事务句柄，保证限额检查与后续写入处于同一事务。
func (r *Resolver) ResolveUser(ctx context.Context, db *gorm.DB, user *database.User) (Entitlements, error) {
	now := r.now()
	if !IsProUser(user, now) {
		return Free(), nil
	}

	var sub database.UserSubscription
	err := db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", user.ID).
		First(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return Resolve(user, nil, r.Defaults, now), nil
	case err != nil:
		return Entitlements{}, err
	default:
		return Resolve(user, &sub, r.Defaults, now), nil
	}
}

// ResolveUserID 按用户 ID 加载并解析权益。
func (r *Resolver) ResolveUserID(ctx context.Context, db *gorm.DB, userID uint) (Entitlements, error) {
	var user database.User
	if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return Entitlements{}, err
	}
	return r.ResolveUser(ctx, db, &user)
}
