package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"

	"infikar/internal/api/middleware"
	"infikar/internal/cards"
	"infikar/internal/database"
	"infikar/internal/tasks"
)

// previewStorage 是删除卡片时清理预览截图所需的最小存储接口。
type previewStorage interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// CardHandler 处理卡片的增删改查、发布与排序。
type CardHandler struct {
	svc         *cards.Service
	asynqClient *asynq.Client
	storage     previewStorage
	logger      *slog.Logger
}

// NewCardHandler 构造卡片处理器。
func NewCardHandler(svc *cards.Service, asynqClient *asynq.Client, storage previewStorage, logger *slog.Logger) *CardHandler {
	return &CardHandler{svc: svc, asynqClient: asynqClient, storage: storage, logger: logger}
}

// respondCardError 把领域错误映射为 HTTP 响应。
// 归属失败与不存在统一映射为 404，避免泄露资源是否存在。
func respondCardError(c *gin.Context, err error) {
	var limitErr *cards.LimitExceededError
	var featureErr *cards.FeatureNotAvailableError
	switch {
	case errors.Is(err, cards.ErrNotFound), errors.Is(err, cards.ErrUnauthorized):
		NotFound(c, "not found")
	case errors.Is(err, cards.ErrTypeMismatch):
		BadRequest(c, "operation does not match card type")
	case errors.Is(err, cards.ErrInvalidTitle):
		BadRequest(c, "title does not produce a usable slug")
	case errors.Is(err, cards.ErrDuplicateSlug):
		Conflict(c, "slug already in use")
	case errors.Is(err, cards.ErrAlreadyExists):
		Conflict(c, "content already exists")
	case errors.As(err, &limitErr):
		Forbidden(c, limitErr.Error())
	case errors.As(err, &featureErr):
		Forbidden(c, featureErr.Error())
	default:
		Internal(c, "internal error")
	}
}

type cardResponse struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	CardType    string     `json:"card_type"`
	TemplateID  uint       `json:"template_id"`
	IsPublished bool       `json:"is_published"`
	IsDraft     bool       `json:"is_draft"`
	IsHidden    bool       `json:"is_hidden"`
	SortOrder   int        `json:"sort_order"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	CustomFontFamily      string         `json:"custom_font_family,omitempty"`
	CustomFontWeight      string         `json:"custom_font_weight,omitempty"`
	CustomFontSize        int            `json:"custom_font_size,omitempty"`
	CustomTextTransform   string         `json:"custom_text_transform,omitempty"`
	CustomBackgroundColor string         `json:"custom_background_color,omitempty"`
	SocialLinks           datatypes.JSON `json:"social_links,omitempty"`
	CardImageKey          string         `json:"card_image_key,omitempty"`
	PreviewImageKey       string         `json:"preview_image_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCardResponse(card *database.Card) cardResponse {
	return cardResponse{
		ID:                    card.ID,
		Title:                 card.Title,
		Slug:                  card.Slug,
		CardType:              card.CardType,
		TemplateID:            card.TemplateID,
		IsPublished:           card.IsPublished,
		IsDraft:               card.IsDraft,
		IsHidden:              card.IsHidden,
		SortOrder:             card.SortOrder,
		PublishedAt:           card.PublishedAt,
		CustomFontFamily:      card.CustomFontFamily,
		CustomFontWeight:      card.CustomFontWeight,
		CustomFontSize:        card.CustomFontSize,
		CustomTextTransform:   card.CustomTextTransform,
		CustomBackgroundColor: card.CustomBackgroundColor,
		SocialLinks:           card.SocialLinks,
		CardImageKey:          card.CardImageKey,
		PreviewImageKey:       card.PreviewImageKey,
		CreatedAt:             card.CreatedAt,
		UpdatedAt:             card.UpdatedAt,
	}
}

func cardIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		BadRequest(c, "invalid card id")
		return 0, false
	}
	return uint(id), true
}

type createCardRequest struct {
	Title      string `json:"title" binding:"required,max=200"`
	Slug       string `json:"slug" binding:"max=100"`
	CardType   string `json:"card_type" binding:"required"`
	TemplateID uint   `json:"template_id" binding:"required"`
}

// CreateCard 在限额内创建一张卡片。
func (h *CardHandler) CreateCard(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	card, err := h.svc.CreateCard(c.Request.Context(), userID, cards.CreateCardInput{
		Title:      req.Title,
		Slug:       req.Slug,
		CardType:   req.CardType,
		TemplateID: req.TemplateID,
	})
	if err != nil {
		respondCardError(c, err)
		return
	}

	middleware.LoggerFromContext(c).Info("card created",
		slog.Uint64("card_id", uint64(card.ID)),
		slog.String("card_type", card.CardType),
	)
	Success(c, http.StatusCreated, gin.H{"card": toCardResponse(card)})
}

// ListCards 返回当前用户的全部卡片。
func (h *CardHandler) ListCards(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	list, err := h.svc.ListCards(c.Request.Context(), userID)
	if err != nil {
		Internal(c, "internal error")
		return
	}

	out := make([]cardResponse, len(list))
	for i := range list {
		out[i] = toCardResponse(&list[i])
	}
	Success(c, http.StatusOK, gin.H{"cards": out})
}

// GetCard 返回单张卡片及其内容变体。
func (h *CardHandler) GetCard(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	card, err := h.svc.LoadCardWithContent(c.Request.Context(), userID, cardID)
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{
		"card":    toCardResponse(card),
		"content": contentPayload(card),
	})
}

type updateCardRequest struct {
	Title                 *string        `json:"title" binding:"omitempty,max=200"`
	TemplateID            *uint          `json:"template_id"`
	CustomFontFamily      *string        `json:"custom_font_family" binding:"omitempty,max=100"`
	CustomFontWeight      *string        `json:"custom_font_weight" binding:"omitempty,max=20"`
	CustomFontSize        *int           `json:"custom_font_size"`
	CustomTextTransform   *string        `json:"custom_text_transform"`
	CustomBackgroundColor *string        `json:"custom_background_color" binding:"omitempty,max=7"`
	SocialLinks           datatypes.JSON `json:"social_links"`
	CardImageKey          *string        `json:"card_image_key" binding:"omitempty,max=512"`
}

// UpdateCard 更新卡片标题与样式覆盖。
func (h *CardHandler) UpdateCard(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req updateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if req.CardImageKey != nil && *req.CardImageKey != "" && !isValidUserAssetObjectKey(userID, *req.CardImageKey) {
		BadRequest(c, "invalid card image key")
		return
	}

	card, err := h.svc.UpdateCard(c.Request.Context(), userID, cardID, cards.UpdateCardInput{
		Title:                 req.Title,
		TemplateID:            req.TemplateID,
		CustomFontFamily:      req.CustomFontFamily,
		CustomFontWeight:      req.CustomFontWeight,
		CustomFontSize:        req.CustomFontSize,
		CustomTextTransform:   req.CustomTextTransform,
		CustomBackgroundColor: req.CustomBackgroundColor,
		SocialLinks:           req.SocialLinks,
		CardImageKey:          req.CardImageKey,
	})
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{"card": toCardResponse(card)})
}

// DeleteCard 删除卡片及其全部内容。
func (h *CardHandler) DeleteCard(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteCard(c.Request.Context(), userID, cardID); err != nil {
		respondCardError(c, err)
		return
	}

	// 预览截图是派生数据，清理失败只记录日志。
	if h.storage != nil {
		prefix := fmt.Sprintf("thumbnails/card/%d/", cardID)
		if err := h.storage.DeletePrefix(c.Request.Context(), prefix); err != nil {
			middleware.LoggerFromContext(c).Warn("delete card previews failed",
				slog.Uint64("card_id", uint64(cardID)),
				slog.Any("error", err),
			)
		}
	}
	Success(c, http.StatusOK, nil)
}

// Publish 发布卡片，并异步刷新预览截图。
func (h *CardHandler) Publish(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	card, err := h.svc.Publish(c.Request.Context(), userID, cardID)
	if err != nil {
		respondCardError(c, err)
		return
	}

	h.enqueuePreview(c, card.ID)
	Success(c, http.StatusOK, gin.H{"card": toCardResponse(card)})
}

// SaveAsDraft 把卡片退回草稿。
func (h *CardHandler) SaveAsDraft(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	card, err := h.svc.SaveAsDraft(c.Request.Context(), userID, cardID)
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{"card": toCardResponse(card)})
}

type setHiddenRequest struct {
	Hidden *bool `json:"hidden" binding:"required"`
}

// SetHidden 设置卡片的隐藏标记。
func (h *CardHandler) SetHidden(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req setHiddenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	card, err := h.svc.SetHidden(c.Request.Context(), userID, cardID, *req.Hidden)
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{"card": toCardResponse(card)})
}

type reorderItem struct {
	ID    uint `json:"id" binding:"required"`
	Order int  `json:"order"`
}

// reorderRequest 接收 {id, order} 对的批量请求，order 只决定相对先后。
type reorderRequest struct {
	Items []reorderItem `json:"items" binding:"required,dive"`
}

// orderedIDs 按 order 升序展开成 ID 序列，order 相同的保持请求内先后。
func (r reorderRequest) orderedIDs() []uint {
	items := make([]reorderItem, len(r.Items))
	copy(items, r.Items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	ids := make([]uint, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// ReorderCards 重排当前用户的卡片。
func (h *CardHandler) ReorderCards(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := h.svc.ReorderCards(c.Request.Context(), userID, req.orderedIDs()); err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, nil)
}

// RequestPreview 手动触发一次预览截图。
func (h *CardHandler) RequestPreview(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	if _, err := h.svc.GetCard(c.Request.Context(), userID, cardID); err != nil {
		respondCardError(c, err)
		return
	}

	h.enqueuePreview(c, cardID)
	Success(c, http.StatusAccepted, nil)
}

func (h *CardHandler) enqueuePreview(c *gin.Context, cardID uint) {
	if h.asynqClient == nil {
		return
	}
	task, err := tasks.NewCardPreviewTask(cardID, middleware.GetCorrelationID(c))
	if err != nil {
		middleware.LoggerFromContext(c).Error("build preview task failed", slog.Any("error", err))
		return
	}
	// 截图失败不影响主流程，只记录日志。
	if _, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(3)); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue preview task failed",
			slog.Uint64("card_id", uint64(cardID)),
			slog.Any("error", err),
		)
	}
}
