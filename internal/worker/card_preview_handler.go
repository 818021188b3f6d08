package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"infikar/internal/database"
	"infikar/internal/errcode"
	"infikar/internal/storage"
	"infikar/internal/tasks"
)

// CardPreviewHandler 负责渲染已发布卡片的公开页面并生成预览截图。
type CardPreviewHandler struct {
	db              *gorm.DB
	storage         *storage.Client
	redisClient     *redis.Client
	logger          *slog.Logger
	frontendBaseURL string
}

func NewCardPreviewHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	frontendBaseURL string,
) *CardPreviewHandler {
	return &CardPreviewHandler{
		db:              db,
		storage:         storageClient,
		redisClient:     redisClient,
		logger:          logger,
		frontendBaseURL: strings.TrimRight(strings.TrimSpace(frontendBaseURL), "/"),
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *CardPreviewHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.CardPreviewPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal card preview payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("card_id", int(payload.CardID)),
	)
	log.Info("Starting card preview generation task...")

	var card database.Card
	if err := h.db.WithContext(ctx).First(&card, payload.CardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("card not found, skipping task")
			return nil
		}
		log.Error("query card failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(card.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := TaskNotifyMessage{
			Status:        "error",
			TaskType:      tasks.TypeCardPreview,
			CardID:        card.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishTaskNotify(ctx, h.redisClient, card.UserID, notify); err != nil {
			log.Error("publish preview error notification failed", slog.Any("error", err))
		}
	}()

	if !card.IsPublished {
		log.Info("card is not published, skipping preview")
		return nil
	}

	var owner database.User
	if err := h.db.WithContext(ctx).First(&owner, card.UserID).Error; err != nil {
		log.Error("query card owner failed", slog.Any("error", err))
		return err
	}

	targetURL := fmt.Sprintf(
		"%s/p/%s/%s",
		h.frontendBaseURL,
		url.PathEscape(owner.Username),
		url.PathEscape(card.Slug),
	)

	page, cleanup, err := renderPublicPage(h.logger, targetURL)
	if err != nil {
		log.Error("render card page failed", slog.Any("error", err))
		return err
	}
	defer cleanup()

	const previewQuality = 80
	previewBytes, err := captureCardScreenshot(page, previewQuality)
	if err != nil {
		log.Error("capture card screenshot failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("thumbnails/card/%d/preview.jpg", card.ID)
	if _, err := h.storage.UploadFile(ctx, objectName, bytes.NewReader(previewBytes), int64(len(previewBytes)), "image/jpeg"); err != nil {
		log.Error("upload card preview failed", slog.Any("error", err))
		return err
	}

	if err := h.db.WithContext(ctx).
		Model(&card).
		Update("preview_image_key", objectName).Error; err != nil {
		log.Error("update card preview key failed", slog.Any("error", err))
		return err
	}

	notify := TaskNotifyMessage{
		Status:        "completed",
		TaskType:      tasks.TypeCardPreview,
		CardID:        card.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := publishTaskNotify(ctx, h.redisClient, card.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Card preview generation completed.")
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
