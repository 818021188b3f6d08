package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"golang.org/x/net/html"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"infikar/internal/database"
	"infikar/internal/tasks"
)

func newQuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkerTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func TestExtractMetadata_PrefersOpenGraph(t *testing.T) {
	page := `<html><head>
		<title>Fallback Title</title>
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="OG description">
		<meta property="og:image" content="https://cdn.example.com/cover.png">
		<meta name="description" content="Plain description">
	</head><body></body></html>`

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	meta := extractMetadata(doc)
	if meta.Title != "OG Title" {
		t.Fatalf("expected og title, got %q", meta.Title)
	}
	if meta.Description != "OG description" {
		t.Fatalf("expected og description, got %q", meta.Description)
	}
	if meta.ImageURL != "https://cdn.example.com/cover.png" {
		t.Fatalf("expected og image, got %q", meta.ImageURL)
	}
}

func TestExtractMetadata_FallsBackToMetaDescription(t *testing.T) {
	page := `<html><head>
		<title> Page Title </title>
		<meta name="description" content="Plain description">
	</head><body></body></html>`

	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}

	meta := extractMetadata(doc)
	if meta.Title != "Page Title" {
		t.Fatalf("expected trimmed title, got %q", meta.Title)
	}
	if meta.Description != "Plain description" {
		t.Fatalf("expected meta description fallback, got %q", meta.Description)
	}
	if meta.ImageURL != "" {
		t.Fatalf("expected no image, got %q", meta.ImageURL)
	}
}

func TestExtractChannelID(t *testing.T) {
	cases := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://www.youtube.com/channel/UCabc123", "UCabc123", false},
		{"https://www.youtube.com/feeds/videos.xml?channel_id=UCxyz", "UCxyz", false},
		{"https://www.youtube.com/@somehandle", "", true},
		{"not a url at all ::", "", true},
	}

	for _, tc := range cases {
		got, err := extractChannelID(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got %q", tc.url, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.url, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %q got %q", tc.url, tc.want, got)
		}
	}
}

func TestChannelFeedDecoding(t *testing.T) {
	feedXML := `<?xml version="1.0" encoding="UTF-8"?>
	<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015"
	      xmlns:media="http://search.yahoo.com/mrss/"
	      xmlns="http://www.w3.org/2005/Atom">
	  <entry>
	    <yt:videoId>vid-1</yt:videoId>
	    <title>First Video</title>
	    <link rel="alternate" href="https://www.youtube.com/watch?v=vid-1"/>
	    <published>2026-08-01T10:00:00+00:00</published>
	    <media:group>
	      <media:thumbnail url="https://i.ytimg.com/vi/vid-1/hqdefault.jpg" width="480" height="360"/>
	    </media:group>
	  </entry>
	</feed>`

	var feed channelFeed
	if err := decodeFeed(strings.NewReader(feedXML), &feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if len(feed.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(feed.Entries))
	}
	entry := feed.Entries[0]
	if entry.Title != "First Video" {
		t.Fatalf("expected title, got %q", entry.Title)
	}
	if entry.VideoID != "vid-1" {
		t.Fatalf("expected video id, got %q", entry.VideoID)
	}
	if entry.Link.Href != "https://www.youtube.com/watch?v=vid-1" {
		t.Fatalf("expected link href, got %q", entry.Link.Href)
	}
	if entry.MediaGroup.Thumbnail.URL == "" {
		t.Fatalf("expected thumbnail url")
	}
}

func TestAnalyticsRecord_AggregatesClicksToOwningCard(t *testing.T) {
	db := newWorkerTestDB(t)

	user := database.User{Username: "owner", Email: "owner@example.com", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	card := database.Card{UserID: user.ID, Title: "Links", Slug: "links", CardType: database.CardTypeLink}
	if err := db.Create(&card).Error; err != nil {
		t.Fatalf("seed card: %v", err)
	}
	link := database.LinkContent{CardID: card.ID, Title: "Site", URL: "https://example.com"}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("seed link: %v", err)
	}

	h := NewAnalyticsRecordHandler(db, nil, newQuietLogger())

	payload := tasks.AnalyticsRecordPayload{
		EventType:     database.EventTypeClick,
		TargetType:    database.TargetTypeLink,
		TargetID:      link.ID,
		OwnerID:       user.ID,
		IPAddress:     "203.0.113.9",
		UserAgent:     "test-agent",
		CorrelationID: "3f2c9a",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	task := asynq.NewTask(tasks.TypeAnalyticsRecord, data)
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task: %v", err)
	}
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task again: %v", err)
	}

	var events int64
	if err := db.Model(&database.AnalyticsEvent{}).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 2 {
		t.Fatalf("expected 2 event rows, got %d", events)
	}

	var first database.AnalyticsEvent
	if err := db.Order("id ASC").First(&first).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(first.Metadata, &meta); err != nil {
		t.Fatalf("decode event metadata: %v", err)
	}
	if meta["correlation_id"] != "3f2c9a" {
		t.Fatalf("expected correlation id in metadata, got %v", meta)
	}

	var stats database.CardAnalytics
	if err := db.Where("card_id = ?", card.ID).First(&stats).Error; err != nil {
		t.Fatalf("load card analytics: %v", err)
	}
	if stats.TotalClicks != 2 {
		t.Fatalf("expected 2 total clicks, got %d", stats.TotalClicks)
	}
	// 没有 Redis 时不做去重，唯一计数保持为零。
	if stats.UniqueClicks != 0 {
		t.Fatalf("expected 0 unique clicks without redis, got %d", stats.UniqueClicks)
	}
	if stats.TotalViews != 0 {
		t.Fatalf("click must not bump view counters, got %d", stats.TotalViews)
	}
}

func TestAnalyticsRecord_MissingTargetSkipsAggregation(t *testing.T) {
	db := newWorkerTestDB(t)

	h := NewAnalyticsRecordHandler(db, nil, newQuietLogger())

	payload := tasks.AnalyticsRecordPayload{
		EventType:  database.EventTypeView,
		TargetType: database.TargetTypeCard,
		TargetID:   4242,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	if err := h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeAnalyticsRecord, data)); err != nil {
		t.Fatalf("missing target must not be retried: %v", err)
	}

	var events int64
	if err := db.Model(&database.AnalyticsEvent{}).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("raw event must still be recorded, got %d", events)
	}
	var aggregates int64
	if err := db.Model(&database.CardAnalytics{}).Count(&aggregates).Error; err != nil {
		t.Fatalf("count aggregates: %v", err)
	}
	if aggregates != 0 {
		t.Fatalf("expected no aggregate rows, got %d", aggregates)
	}
}
