package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"infikar/internal/cards"
	"infikar/internal/database"
	"infikar/internal/entitlement"
)

type cardTestEnv struct {
	db       *gorm.DB
	handler  *CardHandler
	user     database.User
	template database.CardTemplate
}

func newCardTestEnv(t *testing.T) *cardTestEnv {
	t.Helper()
	db, err := gorm.Open(
		sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"),
		&gorm.Config{TranslateError: true},
	)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	user := database.User{
		Username:         "frida",
		Email:            "frida@example.com",
		PasswordHash:     "x",
		SubscriptionTier: "free",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	template := database.CardTemplate{Name: "Classic", Slug: "classic"}
	if err := db.Create(&template).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	resolver := entitlement.NewResolver(entitlement.ProDefaults{
		CardLimit:        100,
		SocialLinksLimit: 50,
		PicksLimit:       500,
	})
	svc := cards.NewService(db, resolver)

	return &cardTestEnv{
		db:       db,
		handler:  NewCardHandler(svc, nil, nil, nil),
		user:     user,
		template: template,
	}
}

func (env *cardTestEnv) do(t *testing.T, fn gin.HandlerFunc, method, path string, body any, params gin.Params) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	c.Set("userID", env.user.ID)

	fn(c)
	return w
}

func (env *cardTestEnv) createCard(t *testing.T, title, slug, cardType string) cardResponse {
	t.Helper()
	w := env.do(t, env.handler.CreateCard, http.MethodPost, "/v1/cards", gin.H{
		"title":       title,
		"slug":        slug,
		"card_type":   cardType,
		"template_id": env.template.ID,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create card: expected 201 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Card cardResponse `json:"card"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.Card
}

func cardParams(id uint) gin.Params {
	return gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(id), 10)}}
}

func TestCreateCard_ReturnsSuccessEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newCardTestEnv(t)

	w := env.do(t, env.handler.CreateCard, http.MethodPost, "/v1/cards", gin.H{
		"title":       "My Links",
		"slug":        "my-links",
		"card_type":   database.CardTypeLink,
		"template_id": env.template.ID,
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Status string       `json:"status"`
		Card   cardResponse `json:"card"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Fatalf("expected status success, got %q", resp.Status)
	}
	if !resp.Card.IsDraft || resp.Card.IsPublished {
		t.Fatalf("new card must start as an unpublished draft: %+v", resp.Card)
	}
}

func TestCreateCard_DuplicateSlugIsConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newCardTestEnv(t)

	env.createCard(t, "First", "mine", database.CardTypeLink)
	w := env.do(t, env.handler.CreateCard, http.MethodPost, "/v1/cards", gin.H{
		"title":       "Second",
		"slug":        "mine",
		"card_type":   database.CardTypeAbout,
		"template_id": env.template.ID,
	}, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Fatalf("expected status error, got %q", resp.Status)
	}
}

func TestSaveAsDraft_FreeTierGets403(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newCardTestEnv(t)

	card := env.createCard(t, "About Me", "about-me", database.CardTypeAbout)

	w := env.do(t, env.handler.Publish, http.MethodPost, "/v1/cards/1/publish", nil, cardParams(card.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("publish: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	w = env.do(t, env.handler.SaveAsDraft, http.MethodPost, "/v1/cards/1/draft", nil, cardParams(card.ID))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.Card
	if err := env.db.First(&stored, card.ID).Error; err != nil {
		t.Fatalf("load card: %v", err)
	}
	if !stored.IsPublished || stored.IsDraft {
		t.Fatalf("failed gating must not change state: %+v", stored)
	}
}

func TestSetHidden_RequiresExplicitFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newCardTestEnv(t)

	card := env.createCard(t, "Splash", "splash", database.CardTypeSplash)

	w := env.do(t, env.handler.SetHidden, http.MethodPost, "/v1/cards/1/hidden", gin.H{}, cardParams(card.ID))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestReorderCards_PairsSortedByOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newCardTestEnv(t)

	a := env.createCard(t, "A", "a", database.CardTypeLink)
	b := env.createCard(t, "B", "b", database.CardTypeAbout)
	cc := env.createCard(t, "C", "c", database.CardTypeSplash)

	// order 值只决定相对先后，与请求内的排列无关。
	w := env.do(t, env.handler.ReorderCards, http.MethodPost, "/v1/cards/reorder", gin.H{
		"items": []gin.H{
			{"id": b.ID, "order": 30},
			{"id": cc.ID, "order": 10},
			{"id": a.ID, "order": 20},
		},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reorder: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	w = env.do(t, env.handler.ListCards, http.MethodGet, "/v1/cards", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Cards []cardResponse `json:"cards"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Cards) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(resp.Cards))
	}
	want := []uint{cc.ID, a.ID, b.ID}
	for i, card := range resp.Cards {
		if card.ID != want[i] {
			t.Fatalf("position %d: expected card %d got %d", i, want[i], card.ID)
		}
		if card.SortOrder != i {
			t.Fatalf("card %d: expected dense sort order %d got %d", card.ID, i, card.SortOrder)
		}
	}
}

func TestGetCard_UnknownIDIs404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := newCardTestEnv(t)

	w := env.do(t, env.handler.GetCard, http.MethodGet, "/v1/cards/999", nil, cardParams(999))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%s", w.Code, w.Body.String())
	}
}
