package worker

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"infikar/internal/database"
	"infikar/internal/tasks"
)

const youtubeFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// YouTubeRefreshHandler 通过频道 RSS 刷新 youtube 卡片的视频列表。
type YouTubeRefreshHandler struct {
	db         *gorm.DB
	logger     *slog.Logger
	httpClient *http.Client
}

func NewYouTubeRefreshHandler(db *gorm.DB, logger *slog.Logger) *YouTubeRefreshHandler {
	return &YouTubeRefreshHandler{
		db:     db,
		logger: logger,
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

// channelFeed 对应 YouTube 频道 RSS（Atom + yt/media 扩展命名空间）。
type channelFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []feedEntry `xml:"entry"`
}

type feedEntry struct {
	Title     string `xml:"title"`
	VideoID   string `xml:"videoId"`
	Published string `xml:"published"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	MediaGroup struct {
		Thumbnail struct {
			URL string `xml:"url,attr"`
		} `xml:"thumbnail"`
	} `xml:"group"`
}

// ProcessTask 实现 asynq.Handler。
func (h *YouTubeRefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.YouTubeRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal youtube refresh payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("content_id", int(payload.ContentID)),
	)

	var content database.YouTubeContent
	if err := h.db.WithContext(ctx).First(&content, payload.ContentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("youtube content not found, skipping task")
			return nil
		}
		log.Error("query youtube content failed", slog.Any("error", err))
		return err
	}

	if !content.AutoFetchVideos {
		log.Info("auto fetch disabled on youtube content, skipping task")
		return nil
	}

	channelID, err := extractChannelID(content.ChannelURL)
	if err != nil {
		// 无法解析的频道地址重试也不会成功。
		log.Warn("cannot resolve channel id, skipping task", slog.Any("error", err))
		return nil
	}

	entries, err := h.fetchChannelFeed(ctx, channelID)
	if err != nil {
		log.Error("fetch channel feed failed", slog.Any("error", err))
		return err
	}

	if content.MaxVideos > 0 && len(entries) > content.MaxVideos {
		entries = entries[:content.MaxVideos]
	}

	if err := h.syncVideos(ctx, &content, entries); err != nil {
		log.Error("sync channel videos failed", slog.Any("error", err))
		return err
	}

	log.Info("youtube channel refreshed", slog.Int("video_count", len(entries)))
	return nil
}

// extractChannelID 支持 /channel/UC... 路径与 channel_id 查询参数。
// @handle 形式的地址需要 Data API 解析，这里不处理。
func extractChannelID(channelURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(channelURL))
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}

	if id := u.Query().Get("channel_id"); id != "" {
		return id, nil
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "channel" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("no channel id in %q", channelURL)
}

func (h *YouTubeRefreshHandler) fetchChannelFeed(ctx context.Context, channelID string) ([]feedEntry, error) {
	feedURL := fmt.Sprintf(youtubeFeedURL, url.QueryEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	var feed channelFeed
	if err := decodeFeed(io.LimitReader(resp.Body, fetchMaxBodyBytes), &feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return feed.Entries, nil
}

func decodeFeed(r io.Reader, feed *channelFeed) error {
	return xml.NewDecoder(r).Decode(feed)
}

// syncVideos 以 RSS 顺序重建视频列表：已存在的按 URL 复用并更新，缺失的创建，多余的删除。
func (h *YouTubeRefreshHandler) syncVideos(ctx context.Context, content *database.YouTubeContent, entries []feedEntry) error {
	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []database.YouTubeVideo
		if err := tx.Where("you_tube_content_id = ?", content.ID).Find(&existing).Error; err != nil {
			return err
		}
		byURL := make(map[string]*database.YouTubeVideo, len(existing))
		for i := range existing {
			byURL[existing[i].VideoURL] = &existing[i]
		}

		seen := make(map[string]struct{}, len(entries))
		for i, entry := range entries {
			videoURL := entry.Link.Href
			if videoURL == "" && entry.VideoID != "" {
				videoURL = "https://www.youtube.com/watch?v=" + entry.VideoID
			}
			if videoURL == "" {
				continue
			}
			seen[videoURL] = struct{}{}

			var publishedAt *time.Time
			if ts, err := time.Parse(time.RFC3339, entry.Published); err == nil {
				publishedAt = &ts
			}

			if video, ok := byURL[videoURL]; ok {
				updates := map[string]any{
					"title":         truncate(entry.Title, 200),
					"thumbnail_url": truncate(entry.MediaGroup.Thumbnail.URL, 2048),
					"sort_order":    i,
				}
				if publishedAt != nil {
					updates["published_at"] = *publishedAt
				}
				if err := tx.Model(video).Updates(updates).Error; err != nil {
					return err
				}
				continue
			}

			video := database.YouTubeVideo{
				YouTubeContentID: content.ID,
				Title:            truncate(entry.Title, 200),
				VideoURL:         videoURL,
				ThumbnailURL:     truncate(entry.MediaGroup.Thumbnail.URL, 2048),
				PublishedAt:      publishedAt,
				SortOrder:        i,
			}
			if err := tx.Create(&video).Error; err != nil {
				return err
			}
		}

		for i := range existing {
			if _, ok := seen[existing[i].VideoURL]; ok {
				continue
			}
			if err := tx.Unscoped().Delete(&existing[i]).Error; err != nil {
				return err
			}
		}

		now := time.Now()
		return tx.Model(content).Update("last_video_fetch", now).Error
	})
}
