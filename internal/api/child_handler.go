package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"infikar/internal/api/middleware"
	"infikar/internal/cards"
	"infikar/internal/tasks"
)

// ChildHandler 处理卡片下多实例子项的增删改与排序：
// link 卡片的链接、recommendation 卡片的推荐项、youtube 卡片的视频。
type ChildHandler struct {
	svc         *cards.Service
	asynqClient *asynq.Client
	logger      *slog.Logger
}

// NewChildHandler 构造子项处理器。
func NewChildHandler(svc *cards.Service, asynqClient *asynq.Client, logger *slog.Logger) *ChildHandler {
	return &ChildHandler{svc: svc, asynqClient: asynqClient, logger: logger}
}

func childIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

type linkRequest struct {
	Title       string `json:"title" binding:"max=200"`
	Subtitle    string `json:"subtitle" binding:"max=200"`
	Description string `json:"description" binding:"max=2000"`
	ImageKey    string `json:"image_key" binding:"max=512"`

	URL      string `json:"url" binding:"omitempty,max=2048"`
	LinkText string `json:"link_text" binding:"max=100"`
	IsEmail  bool   `json:"is_email"`
	IsPhone  bool   `json:"is_phone"`

	AutoFetchTitle       bool `json:"auto_fetch_title"`
	AutoFetchDescription bool `json:"auto_fetch_description"`
	AutoFetchImage       bool `json:"auto_fetch_image"`
}

func (r linkRequest) toInput() cards.LinkInput {
	return cards.LinkInput{
		Title:                r.Title,
		Subtitle:             r.Subtitle,
		Description:          r.Description,
		ImageKey:             r.ImageKey,
		URL:                  r.URL,
		LinkText:             r.LinkText,
		IsEmail:              r.IsEmail,
		IsPhone:              r.IsPhone,
		AutoFetchTitle:       r.AutoFetchTitle,
		AutoFetchDescription: r.AutoFetchDescription,
		AutoFetchImage:       r.AutoFetchImage,
	}
}

func (r linkRequest) wantsAutoFetch() bool {
	return r.AutoFetchTitle || r.AutoFetchDescription || r.AutoFetchImage
}

// AddLink 在 link 卡片末尾追加一条链接。
func (h *ChildHandler) AddLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	link, err := h.svc.AddLink(c.Request.Context(), userID, cardID, req.toInput())
	if err != nil {
		respondCardError(c, err)
		return
	}

	if req.wantsAutoFetch() && link.URL != "" && !link.IsEmail && !link.IsPhone {
		h.maybeEnqueueLinkFetch(c, userID, link.ID)
	}
	Success(c, http.StatusCreated, gin.H{"link": link})
}

// UpdateLink 更新链接子项。
func (h *ChildHandler) UpdateLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}
	linkID, ok := childIDParam(c, "linkID")
	if !ok {
		return
	}

	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	link, err := h.svc.UpdateLink(c.Request.Context(), userID, cardID, linkID, req.toInput())
	if err != nil {
		respondCardError(c, err)
		return
	}

	if req.wantsAutoFetch() && link.URL != "" && !link.IsEmail && !link.IsPhone {
		h.maybeEnqueueLinkFetch(c, userID, link.ID)
	}
	Success(c, http.StatusOK, gin.H{"link": link})
}

// DeleteLink 删除链接子项。
func (h *ChildHandler) DeleteLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}
	linkID, ok := childIDParam(c, "linkID")
	if !ok {
		return
	}

	if err := h.svc.DeleteLink(c.Request.Context(), userID, cardID, linkID); err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, nil)
}

// ReorderLinks 重排链接。提到的按给出顺序排前，未提到的追加在后。
func (h *ChildHandler) ReorderLinks(c *gin.Context) {
	h.reorder(c, h.svc.ReorderLinks)
}

type pickRequest struct {
	Title       string `json:"title" binding:"max=200"`
	Description string `json:"description" binding:"max=2000"`
	ImageKey    string `json:"image_key" binding:"max=512"`
	LinkText    string `json:"link_text" binding:"max=100"`
	LinkURL     string `json:"link_url" binding:"omitempty,url,max=2048"`
}

func (r pickRequest) toInput() cards.PickInput {
	return cards.PickInput{
		Title:       r.Title,
		Description: r.Description,
		ImageKey:    r.ImageKey,
		LinkText:    r.LinkText,
		LinkURL:     r.LinkURL,
	}
}

// AddPick 在 recommendation 卡片末尾追加一条推荐项。
func (h *ChildHandler) AddPick(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req pickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	pick, err := h.svc.AddPick(c.Request.Context(), userID, cardID, req.toInput())
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusCreated, gin.H{"pick": pick})
}

// UpdatePick 更新推荐项。
func (h *ChildHandler) UpdatePick(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}
	pickID, ok := childIDParam(c, "pickID")
	if !ok {
		return
	}

	var req pickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	pick, err := h.svc.UpdatePick(c.Request.Context(), userID, cardID, pickID, req.toInput())
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{"pick": pick})
}

// DeletePick 删除推荐项。
func (h *ChildHandler) DeletePick(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}
	pickID, ok := childIDParam(c, "pickID")
	if !ok {
		return
	}

	if err := h.svc.DeletePick(c.Request.Context(), userID, cardID, pickID); err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, nil)
}

// ReorderPicks 重排推荐项。
func (h *ChildHandler) ReorderPicks(c *gin.Context) {
	h.reorder(c, h.svc.ReorderPicks)
}

type videoRequest struct {
	Title        string `json:"title" binding:"max=200"`
	VideoURL     string `json:"video_url" binding:"required,url,max=2048"`
	ThumbnailURL string `json:"thumbnail_url" binding:"omitempty,url,max=2048"`
	Duration     string `json:"duration" binding:"max=20"`
}

func (r videoRequest) toInput() cards.VideoInput {
	return cards.VideoInput{
		Title:        r.Title,
		VideoURL:     r.VideoURL,
		ThumbnailURL: r.ThumbnailURL,
		Duration:     r.Duration,
	}
}

// AddVideo 在 youtube 卡片末尾追加一个视频。
func (h *ChildHandler) AddVideo(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req videoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	video, err := h.svc.AddVideo(c.Request.Context(), userID, cardID, req.toInput())
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusCreated, gin.H{"video": video})
}

// UpdateVideo 更新视频子项。
func (h *ChildHandler) UpdateVideo(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}
	videoID, ok := childIDParam(c, "videoID")
	if !ok {
		return
	}

	var req videoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	video, err := h.svc.UpdateVideo(c.Request.Context(), userID, cardID, videoID, req.toInput())
	if err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, gin.H{"video": video})
}

// DeleteVideo 删除视频子项。
func (h *ChildHandler) DeleteVideo(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}
	videoID, ok := childIDParam(c, "videoID")
	if !ok {
		return
	}

	if err := h.svc.DeleteVideo(c.Request.Context(), userID, cardID, videoID); err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, nil)
}

// ReorderVideos 重排视频。
func (h *ChildHandler) ReorderVideos(c *gin.Context) {
	h.reorder(c, h.svc.ReorderVideos)
}

func (h *ChildHandler) reorder(c *gin.Context, fn func(ctx context.Context, userID, cardID uint, ids []uint) error) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if err := fn(c.Request.Context(), userID, cardID, req.orderedIDs()); err != nil {
		respondCardError(c, err)
		return
	}
	Success(c, http.StatusOK, nil)
}

// maybeEnqueueLinkFetch 在订阅包含自动抓取时排队元数据抓取任务。
func (h *ChildHandler) maybeEnqueueLinkFetch(c *gin.Context, userID, linkID uint) {
	if h.asynqClient == nil {
		return
	}
	ents, err := h.svc.Resolver().ResolveUserID(c.Request.Context(), h.svc.DB(), userID)
	if err != nil || !ents.HasAutoFetch {
		return
	}
	task, err := tasks.NewLinkFetchTask(linkID, middleware.GetCorrelationID(c))
	if err != nil {
		middleware.LoggerFromContext(c).Error("build link fetch task failed", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.Enqueue(task, asynq.MaxRetry(3), asynq.Timeout(time.Minute)); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue link fetch failed",
			slog.Uint64("link_id", uint64(linkID)),
			slog.Any("error", err),
		)
	}
}
