package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"infikar/internal/cards"
	"infikar/internal/database"
	"infikar/internal/entitlement"
)

// AnalyticsHandler 提供卡片访问统计的只读接口，受订阅的分析功能门控。
type AnalyticsHandler struct {
	db       *gorm.DB
	svc      *cards.Service
	resolver *entitlement.Resolver
}

// NewAnalyticsHandler 构造统计处理器。
func NewAnalyticsHandler(db *gorm.DB, svc *cards.Service, resolver *entitlement.Resolver) *AnalyticsHandler {
	return &AnalyticsHandler{db: db, svc: svc, resolver: resolver}
}

type dailyCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// GetCardAnalytics 返回单张卡片的聚合计数与最近 30 天的按日明细。
func (h *AnalyticsHandler) GetCardAnalytics(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cardID, ok := cardIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	ents, err := h.resolver.ResolveUserID(ctx, h.db, userID)
	if err != nil {
		Internal(c, "internal error")
		return
	}
	if !ents.HasAnalytics {
		Forbidden(c, "analytics requires an upgraded plan")
		return
	}

	card, err := h.svc.GetCard(ctx, userID, cardID)
	if err != nil {
		respondCardError(c, err)
		return
	}

	var totals database.CardAnalytics
	if err := h.db.WithContext(ctx).Where("card_id = ?", card.ID).First(&totals).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			Internal(c, "internal error")
			return
		}
		totals = database.CardAnalytics{CardID: card.ID}
	}

	since := time.Now().AddDate(0, 0, -30)
	var daily []dailyCount
	if err := h.db.WithContext(ctx).Model(&database.AnalyticsEvent{}).
		Select("date(created_at) AS day, count(*) AS count").
		Where("target_type = ? AND target_id = ? AND event_type = ? AND created_at >= ?",
			database.TargetTypeCard, card.ID, database.EventTypeView, since).
		Group("date(created_at)").
		Order("day ASC").
		Scan(&daily).Error; err != nil {
		Internal(c, "internal error")
		return
	}

	Success(c, http.StatusOK, gin.H{
		"analytics": gin.H{
			"total_views":   totals.TotalViews,
			"unique_views":  totals.UniqueViews,
			"total_clicks":  totals.TotalClicks,
			"unique_clicks": totals.UniqueClicks,
			"daily_views":   daily,
		},
	})
}
