package cards

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"infikar/internal/database"
)

// Publish 把卡片置为已发布。发布对所有档位开放，不做权益检查。
// 首次发布时记录 published_at，之后重复发布不覆盖该时间戳。
// 发布会清除草稿标记，但不影响隐藏标记。
func (s *Service) Publish(ctx context.Context, userID, cardID uint) (*database.Card, error) {
	return s.transition(ctx, userID, cardID, func(tx *gorm.DB, card *database.Card, now time.Time) (map[string]any, error) {
		updates := map[string]any{
			"is_published": true,
			"is_draft":     false,
		}
		if card.PublishedAt == nil {
			updates["published_at"] = now
		}
		return updates, nil
	})
}

// SaveAsDraft 把已发布的卡片退回草稿，需要订阅包含草稿功能。
// 新建卡片天然处于草稿态，不经过这里。published_at 保留，
// 用于区分「从未发布」与「曾经发布过」。
func (s *Service) SaveAsDraft(ctx context.Context, userID, cardID uint) (*database.Card, error) {
	return s.transition(ctx, userID, cardID, func(tx *gorm.DB, card *database.Card, now time.Time) (map[string]any, error) {
		ents, err := s.resolver.ResolveUserID(ctx, tx, userID)
		if err != nil {
			return nil, err
		}
		if !ents.CanSaveDrafts {
			return nil, &FeatureNotAvailableError{Feature: "drafts"}
		}
		return map[string]any{
			"is_published": false,
			"is_draft":     true,
		}, nil
	})
}

// SetHidden 设置隐藏标记。隐藏需要订阅包含该功能，取消隐藏不需要。
// 隐藏的卡片不出现在公开列表里，但已发布的隐藏卡片仍可通过直链访问。
func (s *Service) SetHidden(ctx context.Context, userID, cardID uint, hidden bool) (*database.Card, error) {
	return s.transition(ctx, userID, cardID, func(tx *gorm.DB, card *database.Card, now time.Time) (map[string]any, error) {
		if hidden {
			ents, err := s.resolver.ResolveUserID(ctx, tx, userID)
			if err != nil {
				return nil, err
			}
			if !ents.CanHideCards {
				return nil, &FeatureNotAvailableError{Feature: "hide"}
			}
		}
		return map[string]any{"is_hidden": hidden}, nil
	})
}

func (s *Service) transition(ctx context.Context, userID, cardID uint, build func(*gorm.DB, *database.Card, time.Time) (map[string]any, error)) (*database.Card, error) {
	var card *database.Card
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing database.Card
		if err := tx.Where("id = ? AND user_id = ?", cardID, userID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		now := time.Now()
		if s.resolver != nil && s.resolver.Now != nil {
			now = s.resolver.Now()
		}
		updates, err := build(tx, &existing, now)
		if err != nil {
			return err
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&existing, existing.ID).Error; err != nil {
			return err
		}
		card = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}
