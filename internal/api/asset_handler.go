package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"infikar/internal/database"
)

// assetStorage 抽象对象存储操作，便于测试替换。
type assetStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// assetStore 抽象资产元数据的持久化。
type assetStore interface {
	Create(ctx context.Context, asset database.Asset) error
	CountByUser(ctx context.Context, userID uint) (int64, error)
	FindByKey(ctx context.Context, userID uint, objectKey string) (*database.Asset, error)
	DeleteByKey(ctx context.Context, userID uint, objectKey string) error
	ListByUser(ctx context.Context, userID uint, limit int) ([]database.Asset, error)
}

type gormAssetStore struct {
	db *gorm.DB
}

func newGormAssetStore(db *gorm.DB) *gormAssetStore {
	return &gormAssetStore{db: db}
}

func (s *gormAssetStore) Create(ctx context.Context, asset database.Asset) error {
	return s.db.WithContext(ctx).Create(&asset).Error
}

func (s *gormAssetStore) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&database.Asset{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (s *gormAssetStore) FindByKey(ctx context.Context, userID uint, objectKey string) (*database.Asset, error) {
	var asset database.Asset
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND object_key = ?", userID, objectKey).
		First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *gormAssetStore) DeleteByKey(ctx context.Context, userID uint, objectKey string) error {
	return s.db.WithContext(ctx).Unscoped().
		Where("user_id = ? AND object_key = ?", userID, objectKey).
		Delete(&database.Asset{}).Error
}

func (s *gormAssetStore) ListByUser(ctx context.Context, userID uint, limit int) ([]database.Asset, error) {
	var assets []database.Asset
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&assets).Error
	return assets, err
}

// AssetHandler 负责处理图片资产的上传、列表与访问。
type AssetHandler struct {
	store            assetStore
	Storage          assetStorage
	Logger           *slog.Logger
	ClamdAddr        string
	MaxBytes         int64
	MIMEWhitelist    []string
	RedisClient      redis.UniversalClient
	maxAssetsPerUser int
	maxUploadsPerDay int
}

// NewAssetHandler 返回 AssetHandler 实例。
func NewAssetHandler(db *gorm.DB, storageClient assetStorage, logger *slog.Logger, redisClient redis.UniversalClient, clamdAddr string, maxBytes int64, mimeWhitelist []string, maxAssetsPerUser, maxUploadsPerDay int) *AssetHandler {
	return &AssetHandler{
		store:            newGormAssetStore(db),
		Storage:          storageClient,
		Logger:           logger,
		ClamdAddr:        clamdAddr,
		MaxBytes:         maxBytes,
		MIMEWhitelist:    mimeWhitelist,
		RedisClient:      redisClient,
		maxAssetsPerUser: maxAssetsPerUser,
		maxUploadsPerDay: maxUploadsPerDay,
	}
}

func (h *AssetHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AssetHandler) mimeAllowed(contentType string) bool {
	if len(h.MIMEWhitelist) == 0 {
		return true
	}
	for _, allowed := range h.MIMEWhitelist {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func extensionForMIME(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

// UploadAsset 处理受保护的图片上传：类型白名单、大小上限、
// 单用户总量与按日频次限制，上传前经 clamd 扫描。
func (h *AssetHandler) UploadAsset(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	if h.MaxBytes > 0 && file.Size > h.MaxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !h.mimeAllowed(contentType) {
		BadRequest(c, "unsupported media type")
		return
	}

	ctx := c.Request.Context()

	if h.maxAssetsPerUser > 0 {
		count, err := h.store.CountByUser(ctx, userID)
		if err != nil {
			h.logger().Error("count assets", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		if count >= int64(h.maxAssetsPerUser) {
			Forbidden(c, "asset quota exceeded")
			return
		}
	}

	if h.maxUploadsPerDay > 0 && h.RedisClient != nil {
		dayKey := fmt.Sprintf("rate:upload:%d:%s", userID, time.Now().UTC().Format("20060102"))
		count, err := incrWithTTL(ctx, h.RedisClient, dayKey, 24*time.Hour)
		if err == nil && count > int64(h.maxUploadsPerDay) {
			Error(c, http.StatusTooManyRequests, "daily upload limit reached")
			return
		}
	}

	if h.ClamdAddr != "" {
		if ok := h.scanUpload(c, file); !ok {
			return
		}
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	objectKey := fmt.Sprintf("user-assets/%d/%s%s", userID, uuid.NewString(), extensionForMIME(contentType))

	if _, err := h.Storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
		h.logger().Error("upload file", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	if err := h.store.Create(ctx, database.Asset{
		UserID:    userID,
		ObjectKey: objectKey,
		Size:      file.Size,
		MIMEType:  contentType,
	}); err != nil {
		h.logger().Error("record asset", slog.Any("error", err))
		// 对象已上传成功，回滚存储避免悬挂对象。
		_ = h.Storage.DeleteObject(ctx, objectKey)
		Internal(c, "failed to record asset")
		return
	}

	Success(c, http.StatusCreated, gin.H{"object_key": objectKey})
}

func (h *AssetHandler) scanUpload(c *gin.Context, file *multipart.FileHeader) bool {
	clamdClient := clamd.NewClamd(h.ClamdAddr)

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return false
	}

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		h.logger().Error("scan file", slog.Any("error", err))
		Internal(c, "failed to scan file")
		return false
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			BadRequest(c, "malicious file detected")
			return false
		}
	}
	return true
}

// ListAssets 列出用户上传的资产并附带临时预签名 URL。
func (h *AssetHandler) ListAssets(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	limit := 60
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 200 {
		limit = 200
	}

	assets, err := h.store.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger().Error("list assets", slog.Any("error", err))
		Internal(c, "failed to list assets")
		return
	}

	items := make([]gin.H, 0, len(assets))
	for _, asset := range assets {
		url, err := h.Storage.GeneratePresignedURL(c.Request.Context(), asset.ObjectKey, 10*time.Minute)
		if err != nil {
			h.logger().Error("generate asset url", slog.String("object_key", asset.ObjectKey), slog.Any("error", err))
			continue
		}
		items = append(items, gin.H{
			"object_key":  asset.ObjectKey,
			"preview_url": url,
			"size":        asset.Size,
			"mime_type":   asset.MIMEType,
			"created_at":  asset.CreatedAt,
		})
	}

	Success(c, http.StatusOK, gin.H{"items": items})
}

// GetAssetURL 返回资产的临时预签名 URL。
func (h *AssetHandler) GetAssetURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	objectKey := c.Query("key")
	if objectKey == "" {
		BadRequest(c, "missing key")
		return
	}

	if !strings.HasPrefix(objectKey, fmt.Sprintf("user-assets/%d/", userID)) {
		Forbidden(c, "access denied")
		return
	}

	signedURL, err := h.Storage.GeneratePresignedURL(c.Request.Context(), objectKey, 15*time.Minute)
	if err != nil {
		h.logger().Error("generate presigned url", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}

	Success(c, http.StatusOK, gin.H{"url": signedURL})
}

// DeleteAsset 删除资产对象与元数据。
func (h *AssetHandler) DeleteAsset(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	objectKey := c.Query("key")
	if objectKey == "" {
		BadRequest(c, "missing key")
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.FindByKey(ctx, userID, objectKey); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "asset not found")
			return
		}
		Internal(c, "internal error")
		return
	}

	if err := h.Storage.DeleteObject(ctx, objectKey); err != nil {
		h.logger().Error("delete object", slog.Any("error", err))
		Internal(c, "failed to delete asset")
		return
	}
	if err := h.store.DeleteByKey(ctx, userID, objectKey); err != nil {
		h.logger().Error("delete asset record", slog.Any("error", err))
		Internal(c, "failed to delete asset")
		return
	}
	Success(c, http.StatusOK, nil)
}
