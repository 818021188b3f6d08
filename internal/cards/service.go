// Package cards 实现卡片聚合的业务规则：限额内创建、发布状态机、
// 内容变体绑定与子项排序。所有修改都以请求用户为作用域。
package cards

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"infikar/internal/database"
	"infikar/internal/entitlement"
)

// Service 承载卡片域的业务操作。
type Service struct {
	db       *gorm.DB
	resolver *entitlement.Resolver
}

// NewService 构造 Service。
func NewService(db *gorm.DB, resolver *entitlement.Resolver) *Service {
	return &Service{db: db, resolver: resolver}
}

// Resolver 暴露权益解析器，供处理器在只读场景复用。
func (s *Service) Resolver() *entitlement.Resolver {
	return s.resolver
}

// DB 暴露底层句柄，仅供处理器做只读查询。
func (s *Service) DB() *gorm.DB {
	return s.db
}

// lockForUpdate 在支持的方言上加行锁，把「计数 + 插入」收敛为原子操作。
// SQLite 不支持 FOR UPDATE，但其写事务本身是串行的。
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func validCardType(cardType string) bool {
	switch cardType {
	case database.CardTypeLink, database.CardTypeAbout, database.CardTypeRecommendation,
		database.CardTypeSplash, database.CardTypeYouTube:
		return true
	}
	return false
}

// CreateCardInput 描述创建卡片的参数。Slug 为空时由标题派生。
type CreateCardInput struct {
	Title      string
	Slug       string
	CardType   string
	TemplateID uint
}

// CreateCard 在用户卡片限额内创建一张新卡片。
// 限额检查与插入在同一事务内执行，并对用户行加锁，
// 并发创建不会联合越过限额。新卡片默认为草稿，排在末尾。
func (s *Service) CreateCard(ctx context.Context, userID uint, in CreateCardInput) (*database.Card, error) {
	if !validCardType(in.CardType) {
		return nil, ErrTypeMismatch
	}

	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = Slugify(in.Title)
	}
	if slug == "" {
		return nil, ErrInvalidTitle
	}

	var card *database.Card
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user database.User
		if err := lockForUpdate(tx).First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		ents, err := s.resolver.ResolveUser(ctx, tx, &user)
		if err != nil {
			return err
		}

		var template database.CardTemplate
		if err := tx.First(&template, in.TemplateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if template.IsPremium && !ents.HasCustomTemplates {
			return &FeatureNotAvailableError{Feature: "custom_templates"}
		}

		var count int64
		if err := tx.Model(&database.Card{}).
			Where("user_id = ?", userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(ents.CardLimit) {
			return &LimitExceededError{Kind: LimitCards, Limit: ents.CardLimit}
		}

		card = &database.Card{
			UserID:     userID,
			Title:      in.Title,
			Slug:       slug,
			CardType:   in.CardType,
			TemplateID: template.ID,
			IsDraft:    true,
			SortOrder:  int(count),
		}
		if err := tx.Create(card).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateSlug
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// GetCard 返回用户名下的卡片；他人卡片与不存在的卡片同样返回 ErrNotFound。
func (s *Service) GetCard(ctx context.Context, userID, cardID uint) (*database.Card, error) {
	var card database.Card
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", cardID, userID).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &card, nil
}

// ListCards 返回用户全部卡片，按展示顺序排列。
func (s *Service) ListCards(ctx context.Context, userID uint) ([]database.Card, error) {
	var list []database.Card
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sort_order ASC, created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// CountCards 返回用户当前卡片数量。
func (s *Service) CountCards(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&database.Card{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// UpdateCardInput 描述卡片可更新的字段，nil 表示保持原值。
type UpdateCardInput struct {
	Title                 *string
	TemplateID            *uint
	CustomFontFamily      *string
	CustomFontWeight      *string
	CustomFontSize        *int
	CustomTextTransform   *string
	CustomBackgroundColor *string
	SocialLinks           datatypes.JSON
	CardImageKey          *string
}

func validTextTransform(v string) bool {
	switch v {
	case "none", "uppercase", "lowercase", "capitalize":
		return true
	}
	return false
}

// UpdateCard 更新卡片标题与样式覆盖。card_type 与 slug 不可更新。
func (s *Service) UpdateCard(ctx context.Context, userID, cardID uint, in UpdateCardInput) (*database.Card, error) {
	if in.CustomFontSize != nil && (*in.CustomFontSize < 8 || *in.CustomFontSize > 72) {
		return nil, errors.New("font size must be between 8 and 72")
	}
	if in.CustomTextTransform != nil && !validTextTransform(*in.CustomTextTransform) {
		return nil, errors.New("invalid text transform")
	}

	var card *database.Card
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing database.Card
		if err := tx.Where("id = ? AND user_id = ?", cardID, userID).First(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		updates := map[string]any{}
		if in.Title != nil {
			updates["title"] = *in.Title
		}
		if in.TemplateID != nil {
			var template database.CardTemplate
			if err := tx.First(&template, *in.TemplateID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}
			if template.IsPremium {
				var user database.User
				if err := tx.First(&user, userID).Error; err != nil {
					return err
				}
				ents, err := s.resolver.ResolveUser(ctx, tx, &user)
				if err != nil {
					return err
				}
				if !ents.HasCustomTemplates {
					return &FeatureNotAvailableError{Feature: "custom_templates"}
				}
			}
			updates["template_id"] = template.ID
		}
		if in.CustomFontFamily != nil {
			updates["custom_font_family"] = *in.CustomFontFamily
		}
		if in.CustomFontWeight != nil {
			updates["custom_font_weight"] = *in.CustomFontWeight
		}
		if in.CustomFontSize != nil {
			updates["custom_font_size"] = *in.CustomFontSize
		}
		if in.CustomTextTransform != nil {
			updates["custom_text_transform"] = *in.CustomTextTransform
		}
		if in.CustomBackgroundColor != nil {
			updates["custom_background_color"] = *in.CustomBackgroundColor
		}
		if in.SocialLinks != nil {
			updates["social_links"] = in.SocialLinks
		}
		if in.CardImageKey != nil {
			updates["card_image_key"] = *in.CardImageKey
		}

		if len(updates) > 0 {
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return err
			}
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

// DeleteCard 删除卡片及其全部内容变体与子项。
// 删除后压实剩余卡片的 sort_order，保持稠密。
func (s *Service) DeleteCard(ctx context.Context, userID, cardID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card database.Card
		if err := tx.Where("id = ? AND user_id = ?", cardID, userID).First(&card).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := deleteCardContents(tx, card.ID); err != nil {
			return err
		}
		if err := tx.Unscoped().Where("card_id = ?", card.ID).Delete(&database.CardAnalytics{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&database.Card{}, card.ID).Error; err != nil {
			return err
		}

		// 压实剩余卡片的顺序。
		var rest []database.Card
		if err := tx.Where("user_id = ?", userID).
			Order("sort_order ASC, created_at ASC").
			Find(&rest).Error; err != nil {
			return err
		}
		for i := range rest {
			if rest[i].SortOrder == i {
				continue
			}
			if err := tx.Model(&rest[i]).Update("sort_order", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteCardContents(tx *gorm.DB, cardID uint) error {
	if err := tx.Unscoped().Where("card_id = ?", cardID).Delete(&database.LinkContent{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("card_id = ?", cardID).Delete(&database.AboutContent{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("card_id = ?", cardID).Delete(&database.SplashContent{}).Error; err != nil {
		return err
	}

	var rec database.RecommendationContent
	err := tx.Where("card_id = ?", cardID).First(&rec).Error
	switch {
	case err == nil:
		if err := tx.Unscoped().Where("recommendation_id = ?", rec.ID).Delete(&database.RecommendationPick{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&database.RecommendationContent{}, rec.ID).Error; err != nil {
			return err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	var yt database.YouTubeContent
	err = tx.Where("card_id = ?", cardID).First(&yt).Error
	switch {
	case err == nil:
		if err := tx.Unscoped().Where("you_tube_content_id = ?", yt.ID).Delete(&database.YouTubeVideo{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&database.YouTubeContent{}, yt.ID).Error; err != nil {
			return err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	return nil
}

// ReorderCards 重排用户的卡片。未列出的卡片保持相对顺序排在其后。
func (s *Service) ReorderCards(ctx context.Context, userID uint, orderedIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []database.Card
		if err := tx.Where("user_id = ?", userID).
			Order("sort_order ASC, created_at ASC").
			Find(&existing).Error; err != nil {
			return err
		}

		ids := make([]uint, len(existing))
		for i, c := range existing {
			ids[i] = c.ID
		}
		final, err := mergeOrder(ids, orderedIDs)
		if err != nil {
			return err
		}

		for pos, id := range final {
			if err := tx.Model(&database.Card{}).
				Where("id = ? AND user_id = ?", id, userID).
				Update("sort_order", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
