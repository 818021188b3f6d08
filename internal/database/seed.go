package database

import (
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func int64Ptr(v int64) *int64 { return &v }

// SeedDefaults 写入缺失的默认套餐与卡片模板，已存在的行不会被覆盖。
func SeedDefaults(db *gorm.DB, proCardLimit, proSocialLinksLimit, proPicksLimit int) error {
	plans := []SubscriptionPlan{
		{
			Name:             "Free",
			PlanType:         "free",
			BillingCycle:     "none",
			CardLimit:        10,
			SocialLinksLimit: 5,
			PicksLimit:       50,
		},
		{
			Name:               "Pro Monthly",
			PlanType:           "pro",
			BillingCycle:       "monthly",
			PriceMonthlyCents:  int64Ptr(900),
			CardLimit:          proCardLimit,
			SocialLinksLimit:   proSocialLinksLimit,
			PicksLimit:         proPicksLimit,
			CanSaveDrafts:      true,
			CanHideCards:       true,
			HasAnalytics:       true,
			HasCustomTemplates: true,
			HasAutoFetch:       true,
			HasYouTubeAPI:      true,
			TrialDays:          14,
		},
		{
			Name:               "Pro Yearly",
			PlanType:           "pro",
			BillingCycle:       "yearly",
			PriceYearlyCents:   int64Ptr(9000),
			CardLimit:          proCardLimit,
			SocialLinksLimit:   proSocialLinksLimit,
			PicksLimit:         proPicksLimit,
			CanSaveDrafts:      true,
			CanHideCards:       true,
			HasAnalytics:       true,
			HasCustomTemplates: true,
			HasAutoFetch:       true,
			HasYouTubeAPI:      true,
			TrialDays:          14,
		},
	}

	for _, plan := range plans {
		var existing SubscriptionPlan
		err := db.Where("plan_type = ? AND billing_cycle = ?", plan.PlanType, plan.BillingCycle).
			First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("query plan %s/%s: %w", plan.PlanType, plan.BillingCycle, err)
		}
		if err := db.Create(&plan).Error; err != nil {
			return fmt.Errorf("seed plan %s/%s: %w", plan.PlanType, plan.BillingCycle, err)
		}
	}

	templates := []CardTemplate{
		{
			Name:        "Classic",
			Slug:        "classic",
			Description: "简洁的默认样式",
			FontFamily:  "Inter",
			FontWeights: datatypes.JSON([]byte(`["400","600"]`)),
			ColorScheme: datatypes.JSON([]byte(`{"background":"#ffffff","text":"#111111","accent":"#2563eb"}`)),
			SortOrder:   0,
		},
		{
			Name:        "Midnight",
			Slug:        "midnight",
			Description: "深色背景样式",
			FontFamily:  "Inter",
			FontWeights: datatypes.JSON([]byte(`["400","700"]`)),
			ColorScheme: datatypes.JSON([]byte(`{"background":"#0f172a","text":"#f8fafc","accent":"#38bdf8"}`)),
			SortOrder:   1,
		},
		{
			Name:        "Serif Portfolio",
			Slug:        "serif-portfolio",
			Description: "适合作品集的衬线体高级样式",
			FontFamily:  "Playfair Display",
			FontWeights: datatypes.JSON([]byte(`["400","500","700"]`)),
			ColorScheme: datatypes.JSON([]byte(`{"background":"#faf7f2","text":"#1c1917","accent":"#b45309"}`)),
			SortOrder:   2,
			IsPremium:   true,
		},
	}

	for _, tpl := range templates {
		var existing CardTemplate
		err := db.Where("slug = ?", tpl.Slug).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("query template %s: %w", tpl.Slug, err)
		}
		if err := db.Create(&tpl).Error; err != nil {
			return fmt.Errorf("seed template %s: %w", tpl.Slug, err)
		}
	}

	return nil
}
