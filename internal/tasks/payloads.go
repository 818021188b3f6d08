package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeAnalyticsRecord = "analytics:record"
	TypeLinkFetch       = "link:fetch"
	TypeYouTubeRefresh  = "youtube:refresh"
	TypeCardPreview     = "card:preview"
)

// AnalyticsRecordPayload 描述一次待落库的公开访问事件。
type AnalyticsRecordPayload struct {
	EventType     string `json:"event_type"`
	TargetType    string `json:"target_type"`
	TargetID      uint   `json:"target_id"`
	OwnerID       uint   `json:"owner_id"`
	IPAddress     string `json:"ip_address"`
	UserAgent     string `json:"user_agent"`
	Referer       string `json:"referer"`
	CorrelationID string `json:"correlation_id"`
}

// NewAnalyticsRecordTask 构造访问事件落库任务。
func NewAnalyticsRecordTask(p AnalyticsRecordPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeAnalyticsRecord, payload), nil
}

// LinkFetchPayload 描述一次链接元数据抓取。
type LinkFetchPayload struct {
	LinkID        uint   `json:"link_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewLinkFetchTask 构造链接元数据抓取任务。
func NewLinkFetchTask(linkID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(LinkFetchPayload{
		LinkID:        linkID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeLinkFetch, payload), nil
}

// YouTubeRefreshPayload 描述一次频道视频列表刷新。
type YouTubeRefreshPayload struct {
	ContentID     uint   `json:"content_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewYouTubeRefreshTask 构造频道视频刷新任务。
func NewYouTubeRefreshTask(contentID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(YouTubeRefreshPayload{
		ContentID:     contentID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeYouTubeRefresh, payload), nil
}

// CardPreviewPayload 描述一次卡片预览截图。
type CardPreviewPayload struct {
	CardID        uint   `json:"card_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewCardPreviewTask 构造卡片预览截图任务。
func NewCardPreviewTask(cardID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(CardPreviewPayload{
		CardID:        cardID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCardPreview, payload), nil
}
