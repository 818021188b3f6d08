package cards

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"infikar/internal/database"
)

// mergeOrder 把调用方给出的顺序与现有子项合并：
// 提到的按给出顺序排前，未提到的保持原相对顺序追加在后。
// 引用不存在的子项或重复引用都视为非法请求。
func mergeOrder(existing []uint, requested []uint) ([]uint, error) {
	known := make(map[uint]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}

	seen := make(map[uint]bool, len(requested))
	final := make([]uint, 0, len(existing))
	for _, id := range requested {
		if !known[id] {
			return nil, ErrNotFound
		}
		if seen[id] {
			return nil, errors.New("duplicate id in reorder request")
		}
		seen[id] = true
		final = append(final, id)
	}
	for _, id := range existing {
		if !seen[id] {
			final = append(final, id)
		}
	}
	return final, nil
}

// ownedCard 在事务内确认卡片属于该用户且类型匹配。
func ownedCard(tx *gorm.DB, userID, cardID uint, cardType string) (*database.Card, error) {
	var card database.Card
	if err := tx.Where("id = ? AND user_id = ?", cardID, userID).First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if card.CardType != cardType {
		return nil, ErrTypeMismatch
	}
	return &card, nil
}

// ownedCardLocked 同 ownedCard，但持卡片行锁。
// 子项的「计数 + 插入」限额检查以卡片行为锁粒度串行化。
func ownedCardLocked(tx *gorm.DB, userID, cardID uint, cardType string) (*database.Card, error) {
	var card database.Card
	if err := lockForUpdate(tx).Where("id = ? AND user_id = ?", cardID, userID).First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if card.CardType != cardType {
		return nil, ErrTypeMismatch
	}
	return &card, nil
}

// ReorderLinks 重排 link 卡片下的链接，重排后 sort_order 从 0 起稠密连续。
func (s *Service) ReorderLinks(ctx context.Context, userID, cardID uint, orderedIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCard(tx, userID, cardID, database.CardTypeLink)
		if err != nil {
			return err
		}

		var links []database.LinkContent
		if err := tx.Where("card_id = ?", card.ID).
			Order("sort_order ASC, id ASC").
			Find(&links).Error; err != nil {
			return err
		}
		ids := make([]uint, len(links))
		for i, l := range links {
			ids[i] = l.ID
		}

		final, err := mergeOrder(ids, orderedIDs)
		if err != nil {
			return err
		}
		for pos, id := range final {
			if err := tx.Model(&database.LinkContent{}).
				Where("id = ?", id).
				Update("sort_order", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ReorderPicks 重排 recommendation 卡片下的推荐项。
func (s *Service) ReorderPicks(ctx context.Context, userID, cardID uint, orderedIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCard(tx, userID, cardID, database.CardTypeRecommendation)
		if err != nil {
			return err
		}

		var rec database.RecommendationContent
		if err := tx.Where("card_id = ?", card.ID).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var picks []database.RecommendationPick
		if err := tx.Where("recommendation_id = ?", rec.ID).
			Order("sort_order ASC, id ASC").
			Find(&picks).Error; err != nil {
			return err
		}
		ids := make([]uint, len(picks))
		for i, p := range picks {
			ids[i] = p.ID
		}

		final, err := mergeOrder(ids, orderedIDs)
		if err != nil {
			return err
		}
		for pos, id := range final {
			if err := tx.Model(&database.RecommendationPick{}).
				Where("id = ?", id).
				Update("sort_order", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ReorderVideos 重排 youtube 卡片下的视频。
func (s *Service) ReorderVideos(ctx context.Context, userID, cardID uint, orderedIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCard(tx, userID, cardID, database.CardTypeYouTube)
		if err != nil {
			return err
		}

		var yt database.YouTubeContent
		if err := tx.Where("card_id = ?", card.ID).First(&yt).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var videos []database.YouTubeVideo
		if err := tx.Where("you_tube_content_id = ?", yt.ID).
			Order("sort_order ASC, id ASC").
			Find(&videos).Error; err != nil {
			return err
		}
		ids := make([]uint, len(videos))
		for i, v := range videos {
			ids[i] = v.ID
		}

		final, err := mergeOrder(ids, orderedIDs)
		if err != nil {
			return err
		}
		for pos, id := range final {
			if err := tx.Model(&database.YouTubeVideo{}).
				Where("id = ?", id).
				Update("sort_order", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
