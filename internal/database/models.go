package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 订阅档位。pro_trial 的有效性由 trial_end_date 决定。
const (
	TierFree     = "free"
	TierPro      = "pro"
	TierProTrial = "pro_trial"
)

// 卡片内容类型。每张卡片只允许绑定与其类型一致的内容表。
const (
	CardTypeLink           = "link"
	CardTypeAbout          = "about"
	CardTypeRecommendation = "recommendation"
	CardTypeSplash         = "splash"
	CardTypeYouTube        = "youtube"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:30"`
	Email              string `gorm:"uniqueIndex;size:255"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`

	// 个人主页资料
	Bio       string `gorm:"size:500"`
	AvatarKey string `gorm:"size:512"`

	// 订阅档位冗余在用户行上，绑定详情见 UserSubscription。
	SubscriptionTier    string `gorm:"size:10;default:free"`
	TrialEndDate        *time.Time
	SubscriptionEndDate *time.Time

	Cards        []Card            `gorm:"constraint:OnDelete:CASCADE"`
	Subscription *UserSubscription `gorm:"constraint:OnDelete:CASCADE"`
}

// SubscriptionPlan 表示平台提供的订阅套餐：数值限额 + 功能开关。
// 价格不变式：按账期 price_monthly / price_yearly 恰好设置一个，免费套餐两者皆空。
type SubscriptionPlan struct {
	gorm.Model
	Name         string `gorm:"size:100"`
	PlanType     string `gorm:"size:10"`
	BillingCycle string `gorm:"size:10"`

	PriceMonthlyCents *int64
	PriceYearlyCents  *int64

	CardLimit        int
	SocialLinksLimit int
	PicksLimit       int

	CanSaveDrafts      bool `gorm:"default:false"`
	CanHideCards       bool `gorm:"default:false"`
	HasAnalytics       bool `gorm:"default:false"`
	HasCustomTemplates bool `gorm:"default:false"`
	HasAutoFetch       bool `gorm:"default:false"`
	HasYouTubeAPI      bool `gorm:"default:false"`

	TrialDays int  `gorm:"default:0"`
	IsActive  bool `gorm:"default:true"`
}

// UserSubscription 跟踪用户与套餐的绑定关系。支付网关字段仅作透传存储。
type UserSubscription struct {
	gorm.Model
	UserID uint             `gorm:"uniqueIndex"`
	PlanID uint             `gorm:"index"`
	Plan   SubscriptionPlan `gorm:"constraint:OnDelete:CASCADE"`

	Status       string `gorm:"size:20;default:pending"`
	BillingCycle string `gorm:"size:10"`

	StartDate    time.Time
	EndDate      *time.Time
	TrialEndDate *time.Time
	CancelledAt  *time.Time

	StripeSubscriptionID string `gorm:"size:100"`
	StripeCustomerID     string `gorm:"size:100"`
	AutoRenew            bool   `gorm:"default:true"`
}

// CardTemplate 表示可复用的卡片样式模板，被多张卡片共享引用。
type CardTemplate struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;size:100"`
	Slug        string `gorm:"uniqueIndex;size:100"`
	Description string `gorm:"size:1000"`

	FontFamily    string         `gorm:"size:100;default:Inter"`
	FontWeights   datatypes.JSON `gorm:"type:jsonb"`
	ColorScheme   datatypes.JSON `gorm:"type:jsonb"`
	BackgroundKey string         `gorm:"size:512"`

	PreviewImageURL string `gorm:"size:512"`

	IsActive  bool `gorm:"default:true"`
	IsPremium bool `gorm:"default:false"`
	SortOrder int  `gorm:"default:0"`
}

// Card 表示用户主页中的单个卡片，是内容的聚合根。
// card_type 在创建后不可变，决定允许绑定哪一种内容表。
type Card struct {
	gorm.Model
	UserID uint `gorm:"uniqueIndex:idx_cards_user_slug,priority:1"`
	User   User `gorm:"constraint:OnDelete:CASCADE"`

	Title    string `gorm:"size:100"`
	Slug     string `gorm:"size:100;uniqueIndex:idx_cards_user_slug,priority:2"`
	CardType string `gorm:"size:20"`

	TemplateID uint         `gorm:"index"`
	Template   CardTemplate `gorm:"constraint:OnDelete:CASCADE"`

	// 发布状态机：Draft=(false,true,false)，Published=(true,false,*)。
	IsPublished bool `gorm:"default:false"`
	IsDraft     bool `gorm:"default:true"`
	IsHidden    bool `gorm:"default:false"`

	// 样式覆盖
	CustomFontFamily      string `gorm:"size:100"`
	CustomFontWeight      string `gorm:"size:20"`
	CustomFontSize        int    `gorm:"default:16"`
	CustomTextTransform   string `gorm:"size:20;default:none"`
	CustomBackgroundColor string `gorm:"size:7;default:#ffffff"`

	SocialLinks datatypes.JSON `gorm:"type:jsonb"`

	CardImageKey    string `gorm:"size:512"`
	PreviewImageKey string `gorm:"size:512"`

	SortOrder   int `gorm:"index"`
	PublishedAt *time.Time

	LinkContents          []LinkContent          `gorm:"constraint:OnDelete:CASCADE"`
	AboutContent          *AboutContent          `gorm:"constraint:OnDelete:CASCADE"`
	RecommendationContent *RecommendationContent `gorm:"constraint:OnDelete:CASCADE"`
	SplashContent         *SplashContent         `gorm:"constraint:OnDelete:CASCADE"`
	YouTubeContent        *YouTubeContent        `gorm:"constraint:OnDelete:CASCADE"`
}

// LinkContent 表示 link 类型卡片下的单条链接，多实例、可排序。
type LinkContent struct {
	gorm.Model
	CardID uint `gorm:"index"`

	Title       string `gorm:"size:200"`
	Subtitle    string `gorm:"size:200"`
	Description string `gorm:"size:2000"`
	ImageKey    string `gorm:"size:512"`

	URL      string `gorm:"size:2048"`
	LinkText string `gorm:"size:100"`
	IsEmail  bool   `gorm:"default:false"`
	IsPhone  bool   `gorm:"default:false"`

	// 自动抓取设置与缓存（受 has_auto_fetch 门控）
	AutoFetchTitle       bool   `gorm:"default:true"`
	AutoFetchDescription bool   `gorm:"default:true"`
	AutoFetchImage       bool   `gorm:"default:true"`
	FetchedTitle         string `gorm:"size:200"`
	FetchedDescription   string `gorm:"size:2000"`
	FetchedImageURL      string `gorm:"size:2048"`
	LastFetched          *time.Time

	SortOrder int `gorm:"index"`
}

// AboutContent 表示 about 类型卡片的单例内容。
type AboutContent struct {
	gorm.Model
	CardID uint `gorm:"uniqueIndex"`

	Heading          string `gorm:"size:200"`
	Subheading       string `gorm:"size:200"`
	ShortDescription string `gorm:"size:500"`
	ImageKey         string `gorm:"size:512"`

	LinkText string `gorm:"size:100"`
	LinkURL  string `gorm:"size:2048"`

	SocialLinks datatypes.JSON `gorm:"type:jsonb"`
}

// SplashContent 表示 splash 类型卡片的单例内容。
type SplashContent struct {
	gorm.Model
	CardID uint `gorm:"uniqueIndex"`

	Heading    string `gorm:"size:200"`
	Subheading string `gorm:"size:200"`
	ImageKey   string `gorm:"size:512"`

	LinkText string `gorm:"size:100"`
	LinkURL  string `gorm:"size:2048"`

	SocialLinks datatypes.JSON `gorm:"type:jsonb"`
}

// RecommendationContent 表示 recommendation 类型卡片的单例内容，
// 其下挂有可排序的 Picks 列表。
type RecommendationContent struct {
	gorm.Model
	CardID uint `gorm:"uniqueIndex"`

	Title            string `gorm:"size:200"`
	Subtitle         string `gorm:"size:200"`
	Description      string `gorm:"size:2000"`
	ImageKey         string `gorm:"size:512"`
	SubscriptionText string `gorm:"size:200"`

	Picks []RecommendationPick `gorm:"foreignKey:RecommendationID;constraint:OnDelete:CASCADE"`
}

// RecommendationPick 表示推荐卡片中的单条推荐项。
type RecommendationPick struct {
	gorm.Model
	RecommendationID uint `gorm:"index"`

	Title       string `gorm:"size:200"`
	Description string `gorm:"size:2000"`
	ImageKey    string `gorm:"size:512"`
	LinkText    string `gorm:"size:100"`
	LinkURL     string `gorm:"size:2048"`

	SortOrder int `gorm:"index"`
}

// YouTubeContent 表示 youtube 类型卡片的单例外壳，视频列表挂在其下。
type YouTubeContent struct {
	gorm.Model
	CardID uint `gorm:"uniqueIndex"`

	ChannelURL  string `gorm:"size:2048"`
	ButtonLabel string `gorm:"size:50;default:Subscribe"`

	MaxVideos       int  `gorm:"default:100"`
	AutoFetchVideos bool `gorm:"default:false"`
	LastVideoFetch  *time.Time

	Videos []YouTubeVideo `gorm:"constraint:OnDelete:CASCADE"`
}

// YouTubeVideo 表示频道中的单个视频，多实例、可排序。
type YouTubeVideo struct {
	gorm.Model
	YouTubeContentID uint `gorm:"index"`

	Title        string `gorm:"size:200"`
	VideoURL     string `gorm:"size:2048"`
	ThumbnailURL string `gorm:"size:2048"`
	Duration     string `gorm:"size:20"`
	PublishedAt  *time.Time

	SortOrder int `gorm:"index"`
}

// Asset 记录用户上传到对象存储的文件，用于限额检查与清理。
type Asset struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	ObjectKey string `gorm:"uniqueIndex;size:512"`
	Size      int64
	MIMEType  string `gorm:"size:100"`
}

// AnalyticsEvent 表示一次公开访问事件。
// 目标用 (target_type, target_id) 显式标注，不做无类型的动态关联。
type AnalyticsEvent struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index"`

	EventType  string `gorm:"size:20;index"`
	TargetType string `gorm:"size:20;index:idx_analytics_target,priority:1"`
	TargetID   uint   `gorm:"index:idx_analytics_target,priority:2"`

	// 被访问资源所属的用户，用于按主人聚合。
	OwnerID uint `gorm:"index"`

	IPAddress string `gorm:"size:45"`
	UserAgent string `gorm:"size:1000"`
	Referer   string `gorm:"size:2048"`

	Metadata datatypes.JSON `gorm:"type:jsonb"`
}

// 事件类型与目标类型的取值。
const (
	EventTypeView  = "view"
	EventTypeClick = "click"

	TargetTypeCard  = "card"
	TargetTypeLink  = "link"
	TargetTypePick  = "pick"
	TargetTypeVideo = "video"
)

// CardAnalytics 表示卡片维度的聚合计数，由 worker 增量维护。
type CardAnalytics struct {
	gorm.Model
	CardID uint `gorm:"uniqueIndex"`

	TotalViews   int64 `gorm:"default:0"`
	UniqueViews  int64 `gorm:"default:0"`
	TotalClicks  int64 `gorm:"default:0"`
	UniqueClicks int64 `gorm:"default:0"`
}
