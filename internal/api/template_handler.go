package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"infikar/internal/database"
)

// TemplateHandler 负责卡片模板目录的 API。模板由管理端维护，
// 这里只提供只读访问；高级模板对所有人可见，使用时才做权益检查。
type TemplateHandler struct {
	db *gorm.DB
}

func NewTemplateHandler(db *gorm.DB) *TemplateHandler {
	return &TemplateHandler{db: db}
}

type templateListItem struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	Slug            string `json:"slug"`
	PreviewImageURL string `json:"preview_image_url,omitempty"`
	IsPremium       bool   `json:"is_premium"`
}

type templateDetailResponse struct {
	ID              uint           `json:"id"`
	Name            string         `json:"name"`
	Slug            string         `json:"slug"`
	Description     string         `json:"description,omitempty"`
	FontFamily      string         `json:"font_family"`
	FontWeights     datatypes.JSON `json:"font_weights,omitempty"`
	ColorScheme     datatypes.JSON `json:"color_scheme,omitempty"`
	BackgroundKey   string         `json:"background_key,omitempty"`
	PreviewImageURL string         `json:"preview_image_url,omitempty"`
	IsPremium       bool           `json:"is_premium"`
}

// GET /v1/templates
// 列出可用模板目录，按 sort_order 排列。
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	var templates []database.CardTemplate
	if err := h.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		Order("sort_order ASC, id ASC").
		Find(&templates).Error; err != nil {
		Internal(c, "failed to list templates")
		return
	}

	items := make([]templateListItem, 0, len(templates))
	for _, t := range templates {
		items = append(items, templateListItem{
			ID:              t.ID,
			Name:            t.Name,
			Slug:            t.Slug,
			PreviewImageURL: t.PreviewImageURL,
			IsPremium:       t.IsPremium,
		})
	}
	Success(c, http.StatusOK, gin.H{"templates": items})
}

// GET /v1/templates/:id
// 模板详情。
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid template id")
		return
	}

	var model database.CardTemplate
	if err := h.db.WithContext(c.Request.Context()).
		Where("is_active = ?", true).
		First(&model, uint(id)).Error; err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "template not found")
		default:
			Internal(c, "failed to query template")
		}
		return
	}

	Success(c, http.StatusOK, gin.H{"template": templateDetailResponse{
		ID:              model.ID,
		Name:            model.Name,
		Slug:            model.Slug,
		Description:     model.Description,
		FontFamily:      model.FontFamily,
		FontWeights:     model.FontWeights,
		ColorScheme:     model.ColorScheme,
		BackgroundKey:   model.BackgroundKey,
		PreviewImageURL: model.PreviewImageURL,
		IsPremium:       model.IsPremium,
	}})
}
