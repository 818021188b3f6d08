package entitlement

import (
	"testing"
	"time"

	"infikar/internal/database"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestIsProUser_TrialBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		user database.User
		want bool
	}{
		{"free", database.User{SubscriptionTier: database.TierFree}, false},
		{"pro", database.User{SubscriptionTier: database.TierPro}, true},
		{
			"trial active",
			database.User{SubscriptionTier: database.TierProTrial, TrialEndDate: timePtr(now.Add(time.Hour))},
			true,
		},
		{
			"trial expired one second ago",
			database.User{SubscriptionTier: database.TierProTrial, TrialEndDate: timePtr(now.Add(-time.Second))},
			false,
		},
		{
			"trial expires exactly now",
			database.User{SubscriptionTier: database.TierProTrial, TrialEndDate: timePtr(now)},
			false,
		},
		{
			"trial without end date",
			database.User{SubscriptionTier: database.TierProTrial},
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsProUser(&tc.user, now); got != tc.want {
				t.Fatalf("IsProUser = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolve_FreeUserGetsFreeLimits(t *testing.T) {
	now := time.Now()
	user := database.User{SubscriptionTier: database.TierFree}

	ents := Resolve(&user, nil, ProDefaults{CardLimit: 100}, now)

	if ents.CardLimit != FreeCardLimit {
		t.Fatalf("card limit = %d, want %d", ents.CardLimit, FreeCardLimit)
	}
	if ents.SocialLinksLimit != FreeSocialLinksLimit {
		t.Fatalf("social links limit = %d, want %d", ents.SocialLinksLimit, FreeSocialLinksLimit)
	}
	if ents.PicksLimit != FreePicksLimit {
		t.Fatalf("picks limit = %d, want %d", ents.PicksLimit, FreePicksLimit)
	}
	if ents.CanSaveDrafts || ents.CanHideCards || ents.HasAnalytics || ents.HasCustomTemplates || ents.HasAutoFetch || ents.HasYouTubeAPI {
		t.Fatalf("free user must not have feature flags: %+v", ents)
	}
}

func TestResolve_ProWithPlanUsesPlanValues(t *testing.T) {
	now := time.Now()
	user := database.User{SubscriptionTier: database.TierPro}
	sub := database.UserSubscription{
		Status: "active",
		Plan: database.SubscriptionPlan{
			CardLimit:        77,
			SocialLinksLimit: 33,
			PicksLimit:       200,
			CanSaveDrafts:    true,
			CanHideCards:     true,
			HasAnalytics:     true,
		},
	}
	sub.Plan.ID = 1

	ents := Resolve(&user, &sub, ProDefaults{CardLimit: 100}, now)

	if ents.CardLimit != 77 || ents.SocialLinksLimit != 33 || ents.PicksLimit != 200 {
		t.Fatalf("plan limits not applied: %+v", ents)
	}
	if !ents.CanSaveDrafts || !ents.CanHideCards || !ents.HasAnalytics {
		t.Fatalf("plan features not applied: %+v", ents)
	}
	if ents.HasCustomTemplates || ents.HasAutoFetch || ents.HasYouTubeAPI {
		t.Fatalf("unset plan features must stay off: %+v", ents)
	}
}

func TestResolve_ProWithoutPlanFallsBackToDefaults(t *testing.T) {
	now := time.Now()
	user := database.User{SubscriptionTier: database.TierPro}

	ents := Resolve(&user, nil, ProDefaults{CardLimit: 100, SocialLinksLimit: 50, PicksLimit: 500}, now)

	if ents.CardLimit != 100 || ents.SocialLinksLimit != 50 || ents.PicksLimit != 500 {
		t.Fatalf("pro defaults not applied: %+v", ents)
	}
	// 无套餐时功能开关保守关闭，调用方不可据此推断存在付费套餐。
	if ents.CanSaveDrafts || ents.CanHideCards {
		t.Fatalf("features must be conservative without plan: %+v", ents)
	}
}

func TestResolve_ExpiredSubscriptionIgnoresPlan(t *testing.T) {
	now := time.Now()
	user := database.User{SubscriptionTier: database.TierPro}
	sub := database.UserSubscription{
		Status:  "active",
		EndDate: timePtr(now.Add(-time.Minute)),
		Plan: database.SubscriptionPlan{
			CardLimit:     999,
			CanSaveDrafts: true,
		},
	}
	sub.Plan.ID = 2

	ents := Resolve(&user, &sub, ProDefaults{CardLimit: 100, SocialLinksLimit: 50, PicksLimit: 500}, now)

	if ents.CardLimit != 100 {
		t.Fatalf("expired plan must fall back to defaults, got card limit %d", ents.CardLimit)
	}
	if ents.CanSaveDrafts {
		t.Fatalf("expired plan must not grant features")
	}
}

func TestSubscriptionStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		user database.User
		want string
	}{
		{"free", database.User{SubscriptionTier: database.TierFree}, "free"},
		{
			"trial",
			database.User{SubscriptionTier: database.TierProTrial, TrialEndDate: timePtr(now.Add(time.Hour))},
			"trial",
		},
		{
			"trial expired",
			database.User{SubscriptionTier: database.TierProTrial, TrialEndDate: timePtr(now.Add(-time.Second))},
			"trial_expired",
		},
		{
			"active without end date",
			database.User{SubscriptionTier: database.TierPro},
			"active",
		},
		{
			"expired",
			database.User{SubscriptionTier: database.TierPro, SubscriptionEndDate: timePtr(now.Add(-time.Hour))},
			"expired",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SubscriptionStatus(&tc.user, now); got != tc.want {
				t.Fatalf("SubscriptionStatus = %q, want %q", got, tc.want)
			}
		})
	}
}
