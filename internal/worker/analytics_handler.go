package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"infikar/internal/database"
	"infikar/internal/tasks"
)

// 同一访客对同一目标的去重窗口。
const uniqueVisitorTTL = 24 * time.Hour

// AnalyticsRecordHandler 负责消费访问事件任务：落库明细并增量维护卡片聚合。
type AnalyticsRecordHandler struct {
	db          *gorm.DB
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewAnalyticsRecordHandler(db *gorm.DB, redisClient *redis.Client, logger *slog.Logger) *AnalyticsRecordHandler {
	return &AnalyticsRecordHandler{
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *AnalyticsRecordHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.AnalyticsRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal analytics payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("event_type", payload.EventType),
		slog.String("target_type", payload.TargetType),
		slog.Int("target_id", int(payload.TargetID)),
	)

	event := database.AnalyticsEvent{
		CreatedAt:  time.Now(),
		EventType:  payload.EventType,
		TargetType: payload.TargetType,
		TargetID:   payload.TargetID,
		OwnerID:    payload.OwnerID,
		IPAddress:  payload.IPAddress,
		UserAgent:  payload.UserAgent,
		Referer:    payload.Referer,
	}
	if payload.CorrelationID != "" {
		meta, err := json.Marshal(map[string]string{"correlation_id": payload.CorrelationID})
		if err == nil {
			event.Metadata = datatypes.JSON(meta)
		}
	}
	if err := h.db.WithContext(ctx).Create(&event).Error; err != nil {
		log.Error("insert analytics event failed", slog.Any("error", err))
		return err
	}

	cardID, err := h.resolveCardID(ctx, payload.TargetType, payload.TargetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("analytics target no longer exists, skipping aggregation")
			return nil
		}
		log.Error("resolve analytics target failed", slog.Any("error", err))
		return err
	}

	unique := h.isUniqueVisitor(ctx, payload, cardID)
	if err := h.bumpCardCounters(ctx, cardID, payload.EventType, unique); err != nil {
		log.Error("update card analytics failed", slog.Any("error", err))
		return err
	}

	return nil
}

// resolveCardID 将事件目标归位到所属卡片。
func (h *AnalyticsRecordHandler) resolveCardID(ctx context.Context, targetType string, targetID uint) (uint, error) {
	tx := h.db.WithContext(ctx)

	switch targetType {
	case database.TargetTypeCard:
		var card database.Card
		if err := tx.Select("id").First(&card, targetID).Error; err != nil {
			return 0, err
		}
		return card.ID, nil
	case database.TargetTypeLink:
		var link database.LinkContent
		if err := tx.Select("id", "card_id").First(&link, targetID).Error; err != nil {
			return 0, err
		}
		return link.CardID, nil
	case database.TargetTypePick:
		var pick database.RecommendationPick
		if err := tx.First(&pick, targetID).Error; err != nil {
			return 0, err
		}
		var content database.RecommendationContent
		if err := tx.Select("id", "card_id").First(&content, pick.RecommendationID).Error; err != nil {
			return 0, err
		}
		return content.CardID, nil
	case database.TargetTypeVideo:
		var video database.YouTubeVideo
		if err := tx.First(&video, targetID).Error; err != nil {
			return 0, err
		}
		var content database.YouTubeContent
		if err := tx.Select("id", "card_id").First(&content, video.YouTubeContentID).Error; err != nil {
			return 0, err
		}
		return content.CardID, nil
	default:
		return 0, fmt.Errorf("unknown analytics target type %q", targetType)
	}
}

// isUniqueVisitor 借助 Redis 对 (目标, 访客) 在时间窗口内去重。
// Redis 不可用时退化为非唯一计数，明细事件不受影响。
func (h *AnalyticsRecordHandler) isUniqueVisitor(ctx context.Context, payload tasks.AnalyticsRecordPayload, cardID uint) bool {
	if h.redisClient == nil {
		return false
	}

	fingerprint := sha256.Sum256([]byte(payload.IPAddress + "|" + payload.UserAgent))
	key := fmt.Sprintf(
		"analytics:uniq:%s:%d:%s",
		payload.EventType,
		cardID,
		hex.EncodeToString(fingerprint[:8]),
	)

	set, err := h.redisClient.SetNX(ctx, key, 1, uniqueVisitorTTL).Result()
	if err != nil {
		h.logger.Warn("unique visitor check failed", slog.Any("error", err))
		return false
	}
	return set
}

func (h *AnalyticsRecordHandler) bumpCardCounters(ctx context.Context, cardID uint, eventType string, unique bool) error {
	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stats database.CardAnalytics
		err := tx.Where("card_id = ?", cardID).First(&stats).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			stats = database.CardAnalytics{CardID: cardID}
			if err := tx.Create(&stats).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		updates := map[string]any{}
		switch eventType {
		case database.EventTypeView:
			updates["total_views"] = gorm.Expr("total_views + 1")
			if unique {
				updates["unique_views"] = gorm.Expr("unique_views + 1")
			}
		case database.EventTypeClick:
			updates["total_clicks"] = gorm.Expr("total_clicks + 1")
			if unique {
				updates["unique_clicks"] = gorm.Expr("unique_clicks + 1")
			}
		default:
			return nil
		}

		return tx.Model(&database.CardAnalytics{}).
			Where("card_id = ?", cardID).
			Updates(updates).Error
	})
}
