package cards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"infikar/internal/database"
	"infikar/internal/entitlement"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	resolver := entitlement.NewResolver(entitlement.ProDefaults{
		CardLimit:        100,
		SocialLinksLimit: 50,
		PicksLimit:       500,
	})
	return NewService(db, resolver)
}

func seedUser(t *testing.T, db *gorm.DB, username, tier string) *database.User {
	t.Helper()
	user := &database.User{
		Username:         username,
		Email:            username + "@example.com",
		PasswordHash:     "x",
		SubscriptionTier: tier,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// seedProUser 创建带有效套餐绑定的 Pro 用户，套餐开放全部功能开关。
func seedProUser(t *testing.T, db *gorm.DB, username string) *database.User {
	t.Helper()
	user := seedUser(t, db, username, database.TierPro)
	plan := &database.SubscriptionPlan{
		Name:               "Pro Monthly",
		PlanType:           "pro",
		BillingCycle:       "monthly",
		CardLimit:          100,
		SocialLinksLimit:   50,
		PicksLimit:         500,
		CanSaveDrafts:      true,
		CanHideCards:       true,
		HasAnalytics:       true,
		HasCustomTemplates: true,
		HasAutoFetch:       true,
		HasYouTubeAPI:      true,
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	sub := &database.UserSubscription{
		UserID:    user.ID,
		PlanID:    plan.ID,
		Status:    "active",
		StartDate: time.Now().Add(-time.Hour),
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return user
}

func seedTemplate(t *testing.T, db *gorm.DB, slug string, premium bool) *database.CardTemplate {
	t.Helper()
	tpl := &database.CardTemplate{Name: slug, Slug: slug, IsPremium: premium}
	if err := db.Create(tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return tpl
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"My Favorite Links", "my-favorite-links"},
		{"  Hello,   World!  ", "hello-world"},
		{"already-slugged", "already-slugged"},
		{"###", ""},
		{"Mixed CASE 42", "mixed-case-42"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCreateCard_FreeLimitBoundary(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "alice", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	for i := 0; i < entitlement.FreeCardLimit; i++ {
		_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
			Title:      "Card",
			Slug:       "card-" + string(rune('a'+i)),
			CardType:   database.CardTypeLink,
			TemplateID: tpl.ID,
		})
		if err != nil {
			t.Fatalf("create card %d: %v", i, err)
		}
	}

	_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title:      "One Too Many",
		CardType:   database.CardTypeLink,
		TemplateID: tpl.ID,
	})
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Kind != LimitCards || limitErr.Limit != entitlement.FreeCardLimit {
		t.Fatalf("unexpected limit error: %+v", limitErr)
	}

	count, err := svc.CountCards(ctx, user.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != int64(entitlement.FreeCardLimit) {
		t.Fatalf("expected %d cards, got %d", entitlement.FreeCardLimit, count)
	}
}

func TestCreateCard_ConcurrentAtLimitBoundary(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "racer", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	// 单连接让 SQLite 写事务在池层排队，模拟串行化的并发写。
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	remaining := 2
	for i := 0; i < entitlement.FreeCardLimit-remaining; i++ {
		if _, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
			Title:      "Card",
			Slug:       "pre-" + string(rune('a'+i)),
			CardType:   database.CardTypeLink,
			TemplateID: tpl.ID,
		}); err != nil {
			t.Fatalf("seed card %d: %v", i, err)
		}
	}

	attempts := remaining + 3
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
				Title:      "Race",
				Slug:       "race-" + string(rune('a'+i)),
				CardType:   database.CardTypeLink,
				TemplateID: tpl.ID,
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var created, limited int
	for err := range results {
		switch {
		case err == nil:
			created++
		default:
			if _, ok := IsLimitExceeded(err); !ok {
				t.Fatalf("unexpected error from concurrent create: %v", err)
			}
			limited++
		}
	}
	if created != remaining || limited != attempts-remaining {
		t.Fatalf("created=%d limited=%d, want %d/%d", created, limited, remaining, attempts-remaining)
	}

	count, err := svc.CountCards(ctx, user.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != int64(entitlement.FreeCardLimit) {
		t.Fatalf("expected exactly %d cards after concurrent creates, got %d", entitlement.FreeCardLimit, count)
	}
}

func TestCreateCard_UnslugifiableTitleRejected(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "nils", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title:      "###",
		CardType:   database.CardTypeLink,
		TemplateID: tpl.ID,
	})
	if !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
}

func TestCreateCard_ExpiredTrialUsesFreeLimit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)

	expired := time.Now().Add(-time.Hour)
	user := &database.User{
		Username:         "bob",
		Email:            "bob@example.com",
		PasswordHash:     "x",
		SubscriptionTier: database.TierProTrial,
		TrialEndDate:     &expired,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	tpl := seedTemplate(t, db, "classic", false)

	for i := 0; i < entitlement.FreeCardLimit; i++ {
		if err := db.Create(&database.Card{
			UserID:     user.ID,
			Title:      "seeded",
			Slug:       "seed-" + string(rune('a'+i)),
			CardType:   database.CardTypeLink,
			TemplateID: tpl.ID,
			SortOrder:  i,
		}).Error; err != nil {
			t.Fatalf("seed card: %v", err)
		}
	}

	_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title:      "Blocked",
		CardType:   database.CardTypeLink,
		TemplateID: tpl.ID,
	})
	if _, ok := IsLimitExceeded(err); !ok {
		t.Fatalf("expected limit error for expired trial, got %v", err)
	}
}

func TestCreateCard_DuplicateSlug(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "carol", database.TierFree)
	other := seedUser(t, db, "dave", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	if _, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Links", Slug: "links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Links Again", Slug: "links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if !errors.Is(err, ErrDuplicateSlug) {
		t.Fatalf("expected ErrDuplicateSlug, got %v", err)
	}

	// slug 唯一性按用户隔离，别的用户可以用同一个 slug。
	if _, err := svc.CreateCard(ctx, other.ID, CreateCardInput{
		Title: "Links", Slug: "links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	}); err != nil {
		t.Fatalf("same slug for other user: %v", err)
	}
}

func TestCreateCard_InvalidType(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "erin", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Bad", CardType: "poll", TemplateID: tpl.ID,
	})
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestCreateCard_PremiumTemplateGated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "frank", database.TierFree)
	tpl := seedTemplate(t, db, "gold", true)

	_, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Fancy", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if _, ok := IsFeatureNotAvailable(err); !ok {
		t.Fatalf("expected feature gate error, got %v", err)
	}
}

func TestGetCard_OtherUsersCardIsNotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	owner := seedUser(t, db, "grace", database.TierFree)
	intruder := seedUser(t, db, "heidi", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, owner.ID, CreateCardInput{
		Title: "Mine", CardType: database.CardTypeAbout, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.GetCard(ctx, intruder.ID, card.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestPublishLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedProUser(t, db, "ivan")
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Lifecycle", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !card.IsDraft || card.IsPublished {
		t.Fatalf("new card should be an unpublished draft: %+v", card)
	}

	published, err := svc.Publish(ctx, user.ID, card.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !published.IsPublished || published.IsDraft {
		t.Fatalf("publish flags wrong: %+v", published)
	}
	if published.PublishedAt == nil {
		t.Fatal("published_at not set on first publish")
	}
	firstPublishedAt := *published.PublishedAt

	draft, err := svc.SaveAsDraft(ctx, user.ID, card.ID)
	if err != nil {
		t.Fatalf("save as draft: %v", err)
	}
	if draft.IsPublished || !draft.IsDraft {
		t.Fatalf("draft flags wrong: %+v", draft)
	}
	if draft.PublishedAt == nil {
		t.Fatal("published_at should survive save as draft")
	}

	again, err := svc.Publish(ctx, user.ID, card.ID)
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if !again.PublishedAt.Equal(firstPublishedAt) {
		t.Fatalf("published_at changed on republish: %v != %v", again.PublishedAt, firstPublishedAt)
	}

	hidden, err := svc.SetHidden(ctx, user.ID, card.ID, true)
	if err != nil {
		t.Fatalf("hide: %v", err)
	}
	if !hidden.IsHidden || !hidden.IsPublished {
		t.Fatalf("hide must not touch publish state: %+v", hidden)
	}
}

func TestSaveAsDraft_FreeTierGated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "kim", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Gated", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Publish(ctx, user.ID, card.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, err = svc.SaveAsDraft(ctx, user.ID, card.ID)
	var featureErr *FeatureNotAvailableError
	if !errors.As(err, &featureErr) || featureErr.Feature != "drafts" {
		t.Fatalf("expected drafts feature gate, got %v", err)
	}

	// 失败的转换不改变状态。
	got, err := svc.GetCard(ctx, user.ID, card.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.IsPublished || got.IsDraft {
		t.Fatalf("state changed after failed transition: %+v", got)
	}

	// 隐藏同样受门控，取消隐藏不受。
	if _, err := svc.SetHidden(ctx, user.ID, card.ID, true); err == nil {
		t.Fatal("hide should be gated for free tier")
	} else if _, ok := IsFeatureNotAvailable(err); !ok {
		t.Fatalf("expected hide feature gate, got %v", err)
	}
	if _, err := svc.SetHidden(ctx, user.ID, card.ID, false); err != nil {
		t.Fatalf("unhide should not be gated: %v", err)
	}
}

func TestSaveAsDraft_ExpiredTrialGated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)

	expired := time.Now().Add(-time.Second)
	user := &database.User{
		Username:         "lena",
		Email:            "lena@example.com",
		PasswordHash:     "x",
		SubscriptionTier: database.TierProTrial,
		TrialEndDate:     &expired,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Trial Over", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Publish(ctx, user.ID, card.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := svc.SaveAsDraft(ctx, user.ID, card.ID); err == nil {
		t.Fatal("save-as-draft should be gated after trial expiry")
	} else if _, ok := IsFeatureNotAvailable(err); !ok {
		t.Fatalf("expired trial should resolve to free entitlements, got %v", err)
	}
}

func TestDeleteCard_CompactsOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "judy", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	var ids []uint
	for _, slug := range []string{"one", "two", "three"} {
		card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
			Title: slug, Slug: slug, CardType: database.CardTypeLink, TemplateID: tpl.ID,
		})
		if err != nil {
			t.Fatalf("create %s: %v", slug, err)
		}
		ids = append(ids, card.ID)
	}

	if err := svc.DeleteCard(ctx, user.ID, ids[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	list, err := svc.ListCards(ctx, user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(list))
	}
	for i, c := range list {
		if c.SortOrder != i {
			t.Fatalf("sort_order not compacted: card %d has order %d", c.ID, c.SortOrder)
		}
	}
	if list[0].ID != ids[0] || list[1].ID != ids[2] {
		t.Fatalf("relative order lost: %v", []uint{list[0].ID, list[1].ID})
	}
}

func TestReorderLinks_PartialListAppendsRest(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "mallory", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var linkIDs []uint
	for _, title := range []string{"a", "b", "c", "d"} {
		link, err := svc.AddLink(ctx, user.ID, card.ID, LinkInput{Title: title, URL: "https://example.com/" + title})
		if err != nil {
			t.Fatalf("add link %s: %v", title, err)
		}
		linkIDs = append(linkIDs, link.ID)
	}

	// 只提到 c 和 a：二者排前，b、d 保持相对顺序排后。
	if err := svc.ReorderLinks(ctx, user.ID, card.ID, []uint{linkIDs[2], linkIDs[0]}); err != nil {
		t.Fatalf("reorder: %v", err)
	}

	loaded, err := svc.LoadCardWithContent(ctx, user.ID, card.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []uint{linkIDs[2], linkIDs[0], linkIDs[1], linkIDs[3]}
	if len(loaded.LinkContents) != len(want) {
		t.Fatalf("expected %d links, got %d", len(want), len(loaded.LinkContents))
	}
	for i, link := range loaded.LinkContents {
		if link.ID != want[i] {
			t.Fatalf("position %d: got link %d want %d", i, link.ID, want[i])
		}
		if link.SortOrder != i {
			t.Fatalf("position %d: sort_order %d not dense", i, link.SortOrder)
		}
	}
}

func TestReorderLinks_RejectsForeignChild(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "nancy", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.AddLink(ctx, user.ID, card.ID, LinkInput{Title: "a", URL: "https://a"}); err != nil {
		t.Fatalf("add link: %v", err)
	}

	if err := svc.ReorderLinks(ctx, user.ID, card.ID, []uint{9999}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown child, got %v", err)
	}
}

func TestAddLink_FreeLimit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "oscar", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < entitlement.FreeSocialLinksLimit; i++ {
		if _, err := svc.AddLink(ctx, user.ID, card.ID, LinkInput{Title: "l", URL: "https://l"}); err != nil {
			t.Fatalf("add link %d: %v", i, err)
		}
	}
	_, err = svc.AddLink(ctx, user.ID, card.ID, LinkInput{Title: "over", URL: "https://over"})
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) || limitErr.Kind != LimitLinks {
		t.Fatalf("expected links limit error, got %v", err)
	}
}

func TestUpsertContent_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "peggy", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpsertAbout(ctx, user.ID, card.ID, AboutInput{Heading: "hi"}); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := svc.AddPick(ctx, user.ID, card.ID, PickInput{Title: "pick"}); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for pick on link card, got %v", err)
	}
}

func TestUpsertAbout_SingletonUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "quinn", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "About", CardType: database.CardTypeAbout, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.UpsertAbout(ctx, user.ID, card.ID, AboutInput{Heading: "v1"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := svc.UpsertAbout(ctx, user.ID, card.ID, AboutInput{Heading: "v2"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("singleton duplicated: %d != %d", first.ID, second.ID)
	}
	if second.Heading != "v2" {
		t.Fatalf("heading not updated: %q", second.Heading)
	}

	var count int64
	if err := db.Model(&database.AboutContent{}).Where("card_id = ?", card.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 about row, got %d", count)
	}
}

func TestPublicProfile_HiddenNotListedButDirectlyReachable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedProUser(t, db, "ruth")
	tpl := seedTemplate(t, db, "classic", false)

	visible, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Visible", Slug: "visible", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create visible: %v", err)
	}
	hidden, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Hidden", Slug: "hidden", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create hidden: %v", err)
	}
	draft, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Draft", Slug: "draft", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	_ = draft

	if _, err := svc.Publish(ctx, user.ID, visible.ID); err != nil {
		t.Fatalf("publish visible: %v", err)
	}
	if _, err := svc.Publish(ctx, user.ID, hidden.ID); err != nil {
		t.Fatalf("publish hidden: %v", err)
	}
	if _, err := svc.SetHidden(ctx, user.ID, hidden.ID, true); err != nil {
		t.Fatalf("hide: %v", err)
	}

	profile, err := svc.LoadPublicProfile(ctx, "ruth")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if len(profile.Cards) != 1 || profile.Cards[0].ID != visible.ID {
		t.Fatalf("expected only visible card in listing, got %d cards", len(profile.Cards))
	}

	// 隐藏卡片仍可通过直链访问。
	if _, err := svc.LoadPublicCard(ctx, "ruth", "hidden"); err != nil {
		t.Fatalf("direct slug access to hidden card: %v", err)
	}
	// 草稿不可访问。
	if _, err := svc.LoadPublicCard(ctx, "ruth", "draft"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("draft should be unreachable, got %v", err)
	}
}

func TestResolveLinkTarget_RequiresPublishedCard(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestService(t, db)
	user := seedUser(t, db, "sybil", database.TierFree)
	tpl := seedTemplate(t, db, "classic", false)

	card, err := svc.CreateCard(ctx, user.ID, CreateCardInput{
		Title: "Links", CardType: database.CardTypeLink, TemplateID: tpl.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	link, err := svc.AddLink(ctx, user.ID, card.ID, LinkInput{Title: "a", URL: "https://a"})
	if err != nil {
		t.Fatalf("add link: %v", err)
	}

	if _, _, err := svc.ResolveLinkTarget(ctx, link.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unpublished card link should not resolve, got %v", err)
	}

	if _, err := svc.Publish(ctx, user.ID, card.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, owner, err := svc.ResolveLinkTarget(ctx, link.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.URL != "https://a" || owner.UserID != user.ID {
		t.Fatalf("unexpected resolve result: %+v %+v", got, owner)
	}
}
