package cards

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"infikar/internal/database"
)

// AboutInput 描述 about 单例内容的字段。
type AboutInput struct {
	Heading          string
	Subheading       string
	ShortDescription string
	ImageKey         string
	LinkText         string
	LinkURL          string
	SocialLinks      datatypes.JSON
}

// UpsertAbout 写入 about 卡片的单例内容，不存在则创建。
// 卡片类型不匹配时返回 ErrTypeMismatch。
func (s *Service) UpsertAbout(ctx context.Context, userID, cardID uint, in AboutInput) (*database.AboutContent, error) {
	var out *database.AboutContent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCard(tx, userID, cardID, database.CardTypeAbout)
		if err != nil {
			return err
		}

		var content database.AboutContent
		err = tx.Where("card_id = ?", card.ID).First(&content).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		content.CardID = card.ID
		content.Heading = in.Heading
		content.Subheading = in.Subheading
		content.ShortDescription = in.ShortDescription
		content.ImageKey = in.ImageKey
		content.LinkText = in.LinkText
		content.LinkURL = in.LinkURL
		content.SocialLinks = in.SocialLinks
		if err := tx.Save(&content).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return err
		}
		out = &content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SplashInput 描述 splash 单例内容的字段。
type SplashInput struct {
	Heading     string
	Subheading  string
	ImageKey    string
	LinkText    string
	LinkURL     string
	SocialLinks datatypes.JSON
}

// UpsertSplash 写入 splash 卡片的单例内容，不存在则创建。
func (s *Service) UpsertSplash(ctx context.Context, userID, cardID uint, in SplashInput) (*database.SplashContent, error) {
	var out *database.SplashContent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCard(tx, userID, cardID, database.CardTypeSplash)
		if err != nil {
			return err
		}

		var content database.SplashContent
		err = tx.Where("card_id = ?", card.ID).First(&content).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		content.CardID = card.ID
		content.Heading = in.Heading
		content.Subheading = in.Subheading
		content.ImageKey = in.ImageKey
		content.LinkText = in.LinkText
		content.LinkURL = in.LinkURL
		content.SocialLinks = in.SocialLinks
		if err := tx.Save(&content).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return err
		}
		out = &content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecommendationInput 描述 recommendation 卡片外壳的字段。
type RecommendationInput struct {
	Title            string
	Subtitle         string
	Description      string
	ImageKey         string
	SubscriptionText string
}

// UpsertRecommendation 写入 recommendation 卡片外壳，推荐项单独管理。
func (s *Service) UpsertRecommendation(ctx context.Context, userID, cardID uint, in RecommendationInput) (*database.RecommendationContent, error) {
	var out *database.RecommendationContent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCard(tx, userID, cardID, database.CardTypeRecommendation)
		if err != nil {
			return err
		}

		var content database.RecommendationContent
		err = tx.Where("card_id = ?", card.ID).First(&content).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		content.CardID = card.ID
		content.Title = in.Title
		content.Subtitle = in.Subtitle
		content.Description = in.Description
		content.ImageKey = in.ImageKey
		content.SubscriptionText = in.SubscriptionText
		if err := tx.Save(&content).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return err
		}
		out = &content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// YouTubeInput 描述 youtube 卡片外壳的字段。
type YouTubeInput struct {
	ChannelURL      string
	ButtonLabel     string
	MaxVideos       int
	AutoFetchVideos bool
}

// UpsertYouTube 写入 youtube 卡片外壳。开启自动抓取
// 需要订阅计划包含 YouTube 集成。
func (s *Service) UpsertYouTube(ctx context.Context, userID, cardID uint, in YouTubeInput) (*database.YouTubeContent, error) {
	var out *database.YouTubeContent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCard(tx, userID, cardID, database.CardTypeYouTube)
		if err != nil {
			return err
		}

		if in.AutoFetchVideos {
			ents, err := s.resolver.ResolveUserID(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !ents.HasYouTubeAPI {
				return &FeatureNotAvailableError{Feature: "youtube_api"}
			}
		}

		var content database.YouTubeContent
		err = tx.Where("card_id = ?", card.ID).First(&content).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		content.CardID = card.ID
		content.ChannelURL = in.ChannelURL
		content.AutoFetchVideos = in.AutoFetchVideos
		if in.ButtonLabel != "" {
			content.ButtonLabel = in.ButtonLabel
		}
		if in.MaxVideos > 0 {
			content.MaxVideos = in.MaxVideos
		}
		if err := tx.Save(&content).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return err
		}
		out = &content
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LinkInput 描述链接子项的字段。
type LinkInput struct {
	Title       string
	Subtitle    string
	Description string
	ImageKey    string

	URL      string
	LinkText string
	IsEmail  bool
	IsPhone  bool

	AutoFetchTitle       bool
	AutoFetchDescription bool
	AutoFetchImage       bool
}

// AddLink 在 link 卡片末尾追加一条链接。
// 链接数量受订阅限额约束，检查与插入在同一事务内完成。
func (s *Service) AddLink(ctx context.Context, userID, cardID uint, in LinkInput) (*database.LinkContent, error) {
	var out *database.LinkContent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCardLocked(tx, userID, cardID, database.CardTypeLink)
		if err != nil {
			return err
		}

		ents, err := s.resolver.ResolveUserID(ctx, tx, userID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&database.LinkContent{}).
			Where("card_id = ?", card.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(ents.SocialLinksLimit) {
			return &LimitExceededError{Kind: LimitLinks, Limit: ents.SocialLinksLimit}
		}

		link := database.LinkContent{
			CardID:               card.ID,
			Title:                in.Title,
			Subtitle:             in.Subtitle,
			Description:          in.Description,
			ImageKey:             in.ImageKey,
			URL:                  in.URL,
			LinkText:             in.LinkText,
			IsEmail:              in.IsEmail,
			IsPhone:              in.IsPhone,
			AutoFetchTitle:       in.AutoFetchTitle,
			AutoFetchDescription: in.AutoFetchDescription,
			AutoFetchImage:       in.AutoFetchImage,
			SortOrder:            int(count),
		}
		if err := tx.Create(&link).Error; err != nil {
			return err
		}
		out = &link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ownedLink 确认链接属于该用户的该卡片。
func ownedLink(tx *gorm.DB, userID, cardID, linkID uint) (*database.LinkContent, error) {
	if _, err := ownedCard(tx, userID, cardID, database.CardTypeLink); err != nil {
		return nil, err
	}
	var link database.LinkContent
	if err := tx.Where("id = ? AND card_id = ?", linkID, cardID).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// UpdateLink 更新链接子项。
func (s *Service) UpdateLink(ctx context.Context, userID, cardID, linkID uint, in LinkInput) (*database.LinkContent, error) {
	var out *database.LinkContent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := ownedLink(tx, userID, cardID, linkID)
		if err != nil {
			return err
		}
		link.Title = in.Title
		link.Subtitle = in.Subtitle
		link.Description = in.Description
		link.ImageKey = in.ImageKey
		link.URL = in.URL
		link.LinkText = in.LinkText
		link.IsEmail = in.IsEmail
		link.IsPhone = in.IsPhone
		link.AutoFetchTitle = in.AutoFetchTitle
		link.AutoFetchDescription = in.AutoFetchDescription
		link.AutoFetchImage = in.AutoFetchImage
		if err := tx.Save(link).Error; err != nil {
			return err
		}
		out = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteLink 删除链接并压实剩余链接的 sort_order。
func (s *Service) DeleteLink(ctx context.Context, userID, cardID, linkID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := ownedLink(tx, userID, cardID, linkID)
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&database.LinkContent{}, link.ID).Error; err != nil {
			return err
		}
		return compactLinks(tx, cardID)
	})
}

func compactLinks(tx *gorm.DB, cardID uint) error {
	var rest []database.LinkContent
	if err := tx.Where("card_id = ?", cardID).
		Order("sort_order ASC, id ASC").
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
}

// PickInput 描述推荐项的字段。
type PickInput struct {
	Title       string
	Description string
	ImageKey    string
	LinkText    string
	LinkURL     string
}

// AddPick 在 recommendation 卡片末尾追加一条推荐项，数量受订阅限额约束。
func (s *Service) AddPick(ctx context.Context, userID, cardID uint, in PickInput) (*database.RecommendationPick, error) {
	var out *database.RecommendationPick
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCardLocked(tx, userID, cardID, database.CardTypeRecommendation)
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

		ents, err := s.resolver.ResolveUserID(ctx, tx, userID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&database.RecommendationPick{}).
			Where("recommendation_id = ?", rec.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(ents.PicksLimit) {
			return &LimitExceededError{Kind: LimitPicks, Limit: ents.PicksLimit}
		}

		pick := database.RecommendationPick{
			RecommendationID: rec.ID,
			Title:            in.Title,
			Description:      in.Description,
			ImageKey:         in.ImageKey,
			LinkText:         in.LinkText,
			LinkURL:          in.LinkURL,
			SortOrder:        int(count),
		}
		if err := tx.Create(&pick).Error; err != nil {
			return err
		}
		out = &pick
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ownedPick(tx *gorm.DB, userID, cardID, pickID uint) (*database.RecommendationPick, error) {
	card, err := ownedCard(tx, userID, cardID, database.CardTypeRecommendation)
	if err != nil {
		return nil, err
	}
	var rec database.RecommendationContent
	if err := tx.Where("card_id = ?", card.ID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var pick database.RecommendationPick
	if err := tx.Where("id = ? AND recommendation_id = ?", pickID, rec.ID).First(&pick).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &pick, nil
}

// UpdatePick 更新推荐项。
func (s *Service) UpdatePick(ctx context.Context, userID, cardID, pickID uint, in PickInput) (*database.RecommendationPick, error) {
	var out *database.RecommendationPick
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pick, err := ownedPick(tx, userID, cardID, pickID)
		if err != nil {
			return err
		}
		pick.Title = in.Title
		pick.Description = in.Description
		pick.ImageKey = in.ImageKey
		pick.LinkText = in.LinkText
		pick.LinkURL = in.LinkURL
		if err := tx.Save(pick).Error; err != nil {
			return err
		}
		out = pick
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePick 删除推荐项并压实剩余项的 sort_order。
func (s *Service) DeletePick(ctx context.Context, userID, cardID, pickID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pick, err := ownedPick(tx, userID, cardID, pickID)
		if err != nil {
			return err
		}
		recID := pick.RecommendationID
		if err := tx.Unscoped().Delete(&database.RecommendationPick{}, pick.ID).Error; err != nil {
			return err
		}

		var rest []database.RecommendationPick
		if err := tx.Where("recommendation_id = ?", recID).
			Order("sort_order ASC, id ASC").
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

// VideoInput 描述视频子项的字段。
type VideoInput struct {
	Title        string
	VideoURL     string
	ThumbnailURL string
	Duration     string
}

// AddVideo 在 youtube 卡片末尾追加一个视频，数量受外壳 MaxVideos 约束。
func (s *Service) AddVideo(ctx context.Context, userID, cardID uint, in VideoInput) (*database.YouTubeVideo, error) {
	var out *database.YouTubeVideo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		card, err := ownedCardLocked(tx, userID, cardID, database.CardTypeYouTube)
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

		var count int64
		if err := tx.Model(&database.YouTubeVideo{}).
			Where("you_tube_content_id = ?", yt.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(yt.MaxVideos) {
			return &LimitExceededError{Kind: LimitVideos, Limit: yt.MaxVideos}
		}

		video := database.YouTubeVideo{
			YouTubeContentID: yt.ID,
			Title:            in.Title,
			VideoURL:         in.VideoURL,
			ThumbnailURL:     in.ThumbnailURL,
			Duration:         in.Duration,
			SortOrder:        int(count),
		}
		if err := tx.Create(&video).Error; err != nil {
			return err
		}
		out = &video
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ownedVideo(tx *gorm.DB, userID, cardID, videoID uint) (*database.YouTubeVideo, error) {
	card, err := ownedCard(tx, userID, cardID, database.CardTypeYouTube)
	if err != nil {
		return nil, err
	}
	var yt database.YouTubeContent
	if err := tx.Where("card_id = ?", card.ID).First(&yt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var video database.YouTubeVideo
	if err := tx.Where("id = ? AND you_tube_content_id = ?", videoID, yt.ID).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &video, nil
}

// UpdateVideo 更新视频子项。
func (s *Service) UpdateVideo(ctx context.Context, userID, cardID, videoID uint, in VideoInput) (*database.YouTubeVideo, error) {
	var out *database.YouTubeVideo
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		video, err := ownedVideo(tx, userID, cardID, videoID)
		if err != nil {
			return err
		}
		video.Title = in.Title
		video.VideoURL = in.VideoURL
		video.ThumbnailURL = in.ThumbnailURL
		video.Duration = in.Duration
		if err := tx.Save(video).Error; err != nil {
			return err
		}
		out = video
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteVideo 删除视频并压实剩余视频的 sort_order。
func (s *Service) DeleteVideo(ctx context.Context, userID, cardID, videoID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		video, err := ownedVideo(tx, userID, cardID, videoID)
		if err != nil {
			return err
		}
		ytID := video.YouTubeContentID
		if err := tx.Unscoped().Delete(&database.YouTubeVideo{}, video.ID).Error; err != nil {
			return err
		}

		var rest []database.YouTubeVideo
		if err := tx.Where("you_tube_content_id = ?", ytID).
			Order("sort_order ASC, id ASC").
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
