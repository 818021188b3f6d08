package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"infikar/internal/api/middleware"
	"infikar/internal/cards"
	"infikar/internal/database"
	"infikar/internal/tasks"
)

// ProfileHandler 提供公开主页、公开卡片与点击跳转端点，无需认证。
type ProfileHandler struct {
	svc         *cards.Service
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewProfileHandler 构造公开访问处理器。
func NewProfileHandler(svc *cards.Service, asynqClient *asynq.Client, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, asynqClient: asynqClient, logger: logger}
}

type publicCardSummary struct {
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	CardType        string `json:"card_type"`
	CardImageKey    string `json:"card_image_key,omitempty"`
	PreviewImageKey string `json:"preview_image_key,omitempty"`
}

// GetProfile 返回公开主页：用户资料与已发布且未隐藏的卡片列表。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	username := c.Param("username")

	profile, err := h.svc.LoadPublicProfile(c.Request.Context(), username)
	if err != nil {
		respondCardError(c, err)
		return
	}

	summaries := make([]publicCardSummary, len(profile.Cards))
	for i, card := range profile.Cards {
		summaries[i] = publicCardSummary{
			Title:           card.Title,
			Slug:            card.Slug,
			CardType:        card.CardType,
			CardImageKey:    card.CardImageKey,
			PreviewImageKey: card.PreviewImageKey,
		}
	}

	Success(c, http.StatusOK, gin.H{
		"profile": gin.H{
			"username":   profile.User.Username,
			"bio":        profile.User.Bio,
			"avatar_key": profile.User.AvatarKey,
		},
		"cards": summaries,
	})
}

// GetCard 返回单张公开卡片及其内容。只要求已发布，
// 隐藏卡片不出现在列表里，但持有直链的访客仍能打开。
func (h *ProfileHandler) GetCard(c *gin.Context) {
	username := c.Param("username")
	slug := c.Param("slug")

	card, err := h.svc.LoadPublicCard(c.Request.Context(), username, slug)
	if err != nil {
		respondCardError(c, err)
		return
	}

	h.recordEvent(c, tasks.AnalyticsRecordPayload{
		EventType:  database.EventTypeView,
		TargetType: database.TargetTypeCard,
		TargetID:   card.ID,
		OwnerID:    card.UserID,
	})

	Success(c, http.StatusOK, gin.H{
		"card":    toCardResponse(card),
		"content": contentPayload(card),
	})
}

// ClickLink 记录一次链接点击并跳转到目标地址。
func (h *ProfileHandler) ClickLink(c *gin.Context) {
	linkID, ok := childIDParam(c, "linkID")
	if !ok {
		return
	}

	link, card, err := h.svc.ResolveLinkTarget(c.Request.Context(), linkID)
	if err != nil {
		respondCardError(c, err)
		return
	}

	h.recordEvent(c, tasks.AnalyticsRecordPayload{
		EventType:  database.EventTypeClick,
		TargetType: database.TargetTypeLink,
		TargetID:   link.ID,
		OwnerID:    card.UserID,
	})

	target := link.URL
	switch {
	case link.IsEmail:
		target = "mailto:" + link.URL
	case link.IsPhone:
		target = "tel:" + link.URL
	}
	c.Redirect(http.StatusFound, target)
}

// recordEvent 异步落库访问事件。事件丢失只记日志，不影响访客请求。
func (h *ProfileHandler) recordEvent(c *gin.Context, p tasks.AnalyticsRecordPayload) {
	if h.asynqClient == nil {
		return
	}
	p.IPAddress = c.ClientIP()
	p.UserAgent = c.Request.UserAgent()
	p.Referer = c.Request.Referer()
	p.CorrelationID = middleware.GetCorrelationID(c)

	task, err := tasks.NewAnalyticsRecordTask(p)
	if err != nil {
		middleware.LoggerFromContext(c).Error("build analytics task failed", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue analytics task failed",
			slog.String("event_type", p.EventType),
			slog.Any("error", err),
		)
	}
}
