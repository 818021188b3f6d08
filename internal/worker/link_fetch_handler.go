package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"gorm.io/gorm"

	"infikar/internal/database"
	"infikar/internal/tasks"
)

const (
	fetchTimeout      = 15 * time.Second
	fetchMaxBodyBytes = 2 << 20
	fetchUserAgent    = "infikar-linkbot/1.0"
)

// LinkFetchHandler 负责抓取链接目标页面的元数据（标题、描述、预览图）。
// 抓取结果来自第三方页面，入库前经严格策略清洗。
type LinkFetchHandler struct {
	db         *gorm.DB
	logger     *slog.Logger
	httpClient *http.Client
	sanitizer  *bluemonday.Policy
}

func NewLinkFetchHandler(db *gorm.DB, logger *slog.Logger) *LinkFetchHandler {
	return &LinkFetchHandler{
		db:     db,
		logger: logger,
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// pageMetadata 是从 HTML 中提取出的元数据，og: 字段优先。
type pageMetadata struct {
	Title       string
	Description string
	ImageURL    string
}

// ProcessTask 实现 asynq.Handler。
func (h *LinkFetchHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.LinkFetchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal link fetch payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("link_id", int(payload.LinkID)),
	)

	var link database.LinkContent
	if err := h.db.WithContext(ctx).First(&link, payload.LinkID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("link not found, skipping task")
			return nil
		}
		log.Error("query link failed", slog.Any("error", err))
		return err
	}

	if link.IsEmail || link.IsPhone || strings.TrimSpace(link.URL) == "" {
		log.Info("link has no fetchable url, skipping task")
		return nil
	}
	if !link.AutoFetchTitle && !link.AutoFetchDescription && !link.AutoFetchImage {
		log.Info("auto fetch disabled on link, skipping task")
		return nil
	}

	meta, err := h.fetchMetadata(ctx, link.URL)
	if err != nil {
		log.Error("fetch link metadata failed", slog.Any("error", err))
		return err
	}

	now := time.Now()
	updates := map[string]any{"last_fetched": now}
	if title := strings.TrimSpace(h.sanitizer.Sanitize(meta.Title)); link.AutoFetchTitle && title != "" {
		updates["fetched_title"] = truncate(title, 200)
	}
	if desc := strings.TrimSpace(h.sanitizer.Sanitize(meta.Description)); link.AutoFetchDescription && desc != "" {
		updates["fetched_description"] = truncate(desc, 2000)
	}
	if link.AutoFetchImage && meta.ImageURL != "" {
		updates["fetched_image_url"] = truncate(meta.ImageURL, 2048)
	}

	if err := h.db.WithContext(ctx).Model(&link).Updates(updates).Error; err != nil {
		log.Error("update link metadata failed", slog.Any("error", err))
		return err
	}

	log.Info("link metadata refreshed")
	return nil
}

func (h *LinkFetchHandler) fetchMetadata(ctx context.Context, rawURL string) (pageMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return pageMetadata{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return pageMetadata{}, fmt.Errorf("fetch %q: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pageMetadata{}, fmt.Errorf("fetch %q: unexpected status %d", rawURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		return pageMetadata{}, fmt.Errorf("fetch %q: not an html page (%s)", rawURL, contentType)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, fetchMaxBodyBytes))
	if err != nil {
		return pageMetadata{}, fmt.Errorf("parse html: %w", err)
	}

	return extractMetadata(doc), nil
}

// extractMetadata 遍历 HTML 树收集 <title> 与 og/meta 标签。
func extractMetadata(doc *html.Node) pageMetadata {
	var meta pageMetadata
	var fallbackDescription string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if meta.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					meta.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var name, property, content string
				for _, a := range n.Attr {
					switch a.Key {
					case "name":
						name = strings.ToLower(a.Val)
					case "property":
						property = strings.ToLower(a.Val)
					case "content":
						content = strings.TrimSpace(a.Val)
					}
				}
				if content == "" {
					break
				}
				switch {
				case property == "og:title":
					meta.Title = content
				case property == "og:description":
					meta.Description = content
				case property == "og:image":
					meta.ImageURL = content
				case name == "description":
					fallbackDescription = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if meta.Description == "" {
		meta.Description = fallbackDescription
	}
	return meta
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
