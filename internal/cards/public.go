package cards

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"infikar/internal/database"
)

// PublicProfile 是公开主页的数据集合。
type PublicProfile struct {
	User  *database.User
	Cards []database.Card
}

// LoadPublicProfile 按用户名加载公开主页。
// 列表中只出现已发布且未隐藏的卡片，按展示顺序排列。
func (s *Service) LoadPublicProfile(ctx context.Context, username string) (*PublicProfile, error) {
	var user database.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var list []database.Card
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND is_published = ? AND is_hidden = ?", user.ID, true, false).
		Order("sort_order ASC, created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return &PublicProfile{User: &user, Cards: list}, nil
}

// LoadPublicCard 按用户名和 slug 加载单张公开卡片，并带上内容变体。
// 只要求已发布：隐藏的卡片不进列表，但持有直链仍可访问。
func (s *Service) LoadPublicCard(ctx context.Context, username, slug string) (*database.Card, error) {
	var user database.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var card database.Card
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND slug = ? AND is_published = ?", user.ID, slug, true).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := s.loadContent(ctx, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// LoadCardWithContent 加载用户自己的卡片及内容变体，不看发布状态。
func (s *Service) LoadCardWithContent(ctx context.Context, userID, cardID uint) (*database.Card, error) {
	card, err := s.GetCard(ctx, userID, cardID)
	if err != nil {
		return nil, err
	}
	if err := s.loadContent(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// loadContent 按卡片类型加载对应的内容变体，其余保持 nil。
func (s *Service) loadContent(ctx context.Context, card *database.Card) error {
	db := s.db.WithContext(ctx)
	switch card.CardType {
	case database.CardTypeLink:
		var links []database.LinkContent
		err := db.Where("card_id = ?", card.ID).
			Order("sort_order ASC, id ASC").
			Find(&links).Error
		if err != nil {
			return err
		}
		card.LinkContents = links
	case database.CardTypeAbout:
		var about database.AboutContent
		err := db.Where("card_id = ?", card.ID).First(&about).Error
		if err == nil {
			card.AboutContent = &about
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	case database.CardTypeSplash:
		var splash database.SplashContent
		err := db.Where("card_id = ?", card.ID).First(&splash).Error
		if err == nil {
			card.SplashContent = &splash
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	case database.CardTypeRecommendation:
		var rec database.RecommendationContent
		err := db.Preload("Picks", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).Where("card_id = ?", card.ID).First(&rec).Error
		if err == nil {
			card.RecommendationContent = &rec
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	case database.CardTypeYouTube:
		var yt database.YouTubeContent
		err := db.Preload("Videos", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).Where("card_id = ?", card.ID).First(&yt).Error
		if err == nil {
			card.YouTubeContent = &yt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

// ResolveLinkTarget 公开点击跳转用：按链接 ID 找到其 URL 与属主。
// 仅当所属卡片已发布时可用。
func (s *Service) ResolveLinkTarget(ctx context.Context, linkID uint) (*database.LinkContent, *database.Card, error) {
	var link database.LinkContent
	err := s.db.WithContext(ctx).First(&link, linkID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	var card database.Card
	err = s.db.WithContext(ctx).
		Where("id = ? AND is_published = ?", link.CardID, true).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return &link, &card, nil
}
