package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"

	"infikar/internal/api/middleware"
	"infikar/internal/cards"
	"infikar/internal/database"
	"infikar/internal/tasks"
)

// ContentHandler 处理卡片内容变体的读写。
// 单例类内容（about/splash/recommendation/youtube）走统一的 upsert 端点，
// 多实例子项（链接、推荐项、视频）由 ChildHandler 管理。
type ContentHandler struct {
	svc         *cards.Service
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewContentHandler 构造内容处理器。
func NewContentHandler(svc *cards.Service, asynqClient *asynq.Client, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{svc: svc, asynqClient: asynqClient, logger: logger}
}

// upsertContentRequest 是按 type 区分的联合体，只有与卡片类型
// 匹配的分支会被使用。
type upsertContentRequest struct {
	Type string `json:"type" binding:"required"`

	About          *aboutContentRequest          `json:"about"`
	Splash         *splashContentRequest         `json:"splash"`
	Recommendation *recommendationContentRequest `json:"recommendation"`
	YouTube        *youtubeContentRequest        `json:"youtube"`
}

type aboutContentRequest struct {
	Heading          string         `json:"heading" binding:"max=200"`
	Subheading       string         `json:"subheading" binding:"max=200"`
	ShortDescription string         `json:"short_description" binding:"max=500"`
	ImageKey         string         `json:"image_key" binding:"max=512"`
	LinkText         string         `json:"link_text" binding:"max=100"`
	LinkURL          string         `json:"link_url" binding:"omitempty,url,max=2048"`
	SocialLinks      datatypes.JSON `json:"social_links"`
}

type splashContentRequest struct {
	Heading     string         `json:"heading" binding:"max=200"`
	Subheading  string         `json:"subheading" binding:"max=200"`
	ImageKey    string         `json:"image_key" binding:"max=512"`
	LinkText    string         `json:"link_text" binding:"max=100"`
	LinkURL     string         `json:"link_url" binding:"omitempty,url,max=2048"`
	SocialLinks datatypes.JSON `json:"social_links"`
}

type recommendationContentRequest struct {
	Title            string `json:"title" binding:"max=200"`
	Subtitle         string `json:"subtitle" binding:"max=200"`
	Description      string `json:"description" binding:"max=2000"`
	ImageKey         string `json:"image_key" binding:"max=512"`
	SubscriptionText string `json:"subscription_text" binding:"max=200"`
}

type youtubeContentRequest struct {
	ChannelURL      string `json:"channel_url" binding:"omitempty,url,max=2048"`
	ButtonLabel     string `json:"button_label" binding:"max=50"`
	MaxVideos       int    `json:"max_videos" binding:"omitempty,min=1,max=500"`
	AutoFetchVideos bool   `json:"auto_fetch_videos"`
}

// UpsertContent 写入卡片的单例内容。请求的 type 必须与卡片类型一致。
func (h *ContentHandler) UpsertContent(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req upsertContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	switch req.Type {
	case database.CardTypeAbout:
		if req.About == nil {
			BadRequest(c, "about payload is required")
			return
		}
		content, err := h.svc.UpsertAbout(ctx, userID, cardID, cards.AboutInput{
			Heading:          req.About.Heading,
			Subheading:       req.About.Subheading,
			ShortDescription: req.About.ShortDescription,
			ImageKey:         req.About.ImageKey,
			LinkText:         req.About.LinkText,
			LinkURL:          req.About.LinkURL,
			SocialLinks:      req.About.SocialLinks,
		})
		if err != nil {
			respondCardError(c, err)
			return
		}
		Success(c, http.StatusOK, gin.H{"content": content})
	case database.CardTypeSplash:
		if req.Splash == nil {
			BadRequest(c, "splash payload is required")
			return
		}
		content, err := h.svc.UpsertSplash(ctx, userID, cardID, cards.SplashInput{
			Heading:     req.Splash.Heading,
			Subheading:  req.Splash.Subheading,
			ImageKey:    req.Splash.ImageKey,
			LinkText:    req.Splash.LinkText,
			LinkURL:     req.Splash.LinkURL,
			SocialLinks: req.Splash.SocialLinks,
		})
		if err != nil {
			respondCardError(c, err)
			return
		}
		Success(c, http.StatusOK, gin.H{"content": content})
	case database.CardTypeRecommendation:
		if req.Recommendation == nil {
			BadRequest(c, "recommendation payload is required")
			return
		}
		content, err := h.svc.UpsertRecommendation(ctx, userID, cardID, cards.RecommendationInput{
			Title:            req.Recommendation.Title,
			Subtitle:         req.Recommendation.Subtitle,
			Description:      req.Recommendation.Description,
			ImageKey:         req.Recommendation.ImageKey,
			SubscriptionText: req.Recommendation.SubscriptionText,
		})
		if err != nil {
			respondCardError(c, err)
			return
		}
		Success(c, http.StatusOK, gin.H{"content": content})
	case database.CardTypeYouTube:
		if req.YouTube == nil {
			BadRequest(c, "youtube payload is required")
			return
		}
		content, err := h.svc.UpsertYouTube(ctx, userID, cardID, cards.YouTubeInput{
			ChannelURL:      req.YouTube.ChannelURL,
			ButtonLabel:     req.YouTube.ButtonLabel,
			MaxVideos:       req.YouTube.MaxVideos,
			AutoFetchVideos: req.YouTube.AutoFetchVideos,
		})
		if err != nil {
			respondCardError(c, err)
			return
		}
		if content.AutoFetchVideos {
			h.enqueueYouTubeRefresh(c, content.ID)
		}
		Success(c, http.StatusOK, gin.H{"content": content})
	case database.CardTypeLink:
		BadRequest(c, "link cards are managed through the links endpoints")
	default:
		BadRequest(c, "unknown content type")
	}
}

func (h *ContentHandler) enqueueYouTubeRefresh(c *gin.Context, contentID uint) {
	if h.asynqClient == nil {
		return
	}
	task, err := tasks.NewYouTubeRefreshTask(contentID, middleware.GetCorrelationID(c))
	if err != nil {
		middleware.LoggerFromContext(c).Error("build youtube refresh task failed", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute)); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue youtube refresh failed", slog.Any("error", err))
	}
}

// contentPayload 按卡片类型挑出已加载的内容变体。
func contentPayload(card *database.Card) any {
	switch card.CardType {
	case database.CardTypeLink:
		return card.LinkContents
	case database.CardTypeAbout:
		return card.AboutContent
	case database.CardTypeSplash:
		return card.SplashContent
	case database.CardTypeRecommendation:
		return card.RecommendationContent
	case database.CardTypeYouTube:
		return card.YouTubeContent
	}
	return nil
}
