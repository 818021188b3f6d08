package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"infikar/internal/database"
)

type fakeStorage struct {
	uploaded map[string][]byte

	deleted []string

	presign map[string]string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		uploaded: map[string][]byte{},
		presign:  map[string]string{},
	}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	return &minio.UploadInfo{}, nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	if v, ok := s.presign[objectKey]; ok {
		return v, nil
	}
	return "https://example.invalid/" + objectKey, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func newAssetTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Asset{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newUnreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	// 无法连通的地址：按日限流在 Redis 出错时放行，不阻断上传。
	return redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
}

func newAssetHandlerForTest(t *testing.T, db *gorm.DB, storage *fakeStorage) *AssetHandler {
	t.Helper()
	return &AssetHandler{
		store:            newGormAssetStore(db),
		Storage:          storage,
		ClamdAddr:        "",
		MaxBytes:         5 * 1024 * 1024,
		MIMEWhitelist:    []string{"image/png", "image/jpeg"},
		RedisClient:      newUnreachableRedis(t),
		maxAssetsPerUser: 4,
		maxUploadsPerDay: 4,
	}
}

func newMultipartUpload(t *testing.T, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create form part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func doUpload(t *testing.T, h *AssetHandler, userID uint, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, formContentType := newMultipartUpload(t, filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/v1/assets/upload", body)
	req.Header.Set("Content-Type", formContentType)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("userID", userID)

	h.UploadAsset(c)
	return w
}

func TestUploadAsset_StoresObjectAndMetadata(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAssetTestDB(t)
	storage := newFakeStorage()
	h := newAssetHandlerForTest(t, db, storage)

	content := []byte("\x89PNG\r\n\x1a\n")
	w := doUpload(t, h, 1, "a.png", "image/png", content)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	if len(storage.uploaded) != 1 {
		t.Fatalf("expected 1 uploaded object, got %d", len(storage.uploaded))
	}
	for key, data := range storage.uploaded {
		if !strings.HasPrefix(key, "user-assets/1/") {
			t.Fatalf("object key %q not namespaced to user", key)
		}
		if !strings.HasSuffix(key, ".png") {
			t.Fatalf("object key %q missing png extension", key)
		}
		if !bytes.Equal(data, content) {
			t.Fatalf("uploaded bytes do not match")
		}
	}

	var asset database.Asset
	if err := db.Where("user_id = ?", 1).First(&asset).Error; err != nil {
		t.Fatalf("asset row not recorded: %v", err)
	}
	if asset.MIMEType != "image/png" {
		t.Fatalf("expected mime image/png, got %q", asset.MIMEType)
	}
}

func TestUploadAsset_RejectsUnsupportedMIME(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAssetTestDB(t)
	storage := newFakeStorage()
	h := newAssetHandlerForTest(t, db, storage)

	w := doUpload(t, h, 1, "a.svg", "image/svg+xml", []byte("<svg/>"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
	if len(storage.uploaded) != 0 {
		t.Fatalf("rejected upload must not reach storage")
	}
}

func TestUploadAsset_RejectsOversizedFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAssetTestDB(t)
	storage := newFakeStorage()
	h := newAssetHandlerForTest(t, db, storage)
	h.MaxBytes = 16

	w := doUpload(t, h, 1, "a.png", "image/png", bytes.Repeat([]byte("x"), 64))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadAsset_LimitsByCount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := newAssetTestDB(t)
	storage := newFakeStorage()
	h := newAssetHandlerForTest(t, db, storage)

	for i := 0; i < 4; i++ {
		objectKey := "user-assets/1/existing-" + strconv.Itoa(i) + ".png"
		if err := h.store.Create(ctx, database.Asset{UserID: 1, ObjectKey: objectKey}); err != nil {
			t.Fatalf("seed asset: %v", err)
		}
	}

	w := doUpload(t, h, 1, "a.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestGetAssetURL_RejectsForeignKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAssetTestDB(t)
	storage := newFakeStorage()
	h := newAssetHandlerForTest(t, db, storage)

	req := httptest.NewRequest(http.MethodGet, "/v1/assets/view?key=user-assets/2/other.png", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("userID", uint(1))

	h.GetAssetURL(c)

	if w.Code == http.StatusOK {
		t.Fatalf("user 1 must not presign user 2's object, got 200 body=%s", w.Body.String())
	}
}

func TestDeleteAsset_RemovesObjectAndRow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := newAssetTestDB(t)
	storage := newFakeStorage()
	h := newAssetHandlerForTest(t, db, storage)

	objectKey := "user-assets/1/pic.png"
	storage.uploaded[objectKey] = []byte("data")
	if err := h.store.Create(ctx, database.Asset{UserID: 1, ObjectKey: objectKey}); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v1/assets?key="+objectKey, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("userID", uint(1))

	h.DeleteAsset(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if len(storage.deleted) != 1 || storage.deleted[0] != objectKey {
		t.Fatalf("expected object %q deleted, got %v", objectKey, storage.deleted)
	}
	var count int64
	if err := db.Model(&database.Asset{}).Where("object_key = ?", objectKey).Count(&count).Error; err != nil {
		t.Fatalf("count assets: %v", err)
	}
	if count != 0 {
		t.Fatalf("asset row must be removed")
	}
}
