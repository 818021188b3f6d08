package cards

import (
	"errors"
	"fmt"
)

// 业务错误分类。限额与功能门控错误均为可恢复的用户侧错误，
// NotFound 与 Unauthorized 在 HTTP 边界统一收敛为 404。
var (
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTypeMismatch  = errors.New("content type does not match card type")
	ErrAlreadyExists = errors.New("content already attached to card")
	ErrDuplicateSlug = errors.New("slug already in use")
	ErrInvalidTitle  = errors.New("title does not produce a usable slug")
)

// LimitKind 标识被触达的限额种类。
type LimitKind string

const (
	LimitCards  LimitKind = "cards"
	LimitLinks  LimitKind = "links"
	LimitPicks  LimitKind = "picks"
	LimitVideos LimitKind = "videos"
)

// LimitExceededError 表示某类数量限额已被用满。
type LimitExceededError struct {
	Kind  LimitKind
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit reached (%d)", e.Kind, e.Limit)
}

// FeatureNotAvailableError 表示当前套餐未开通某项功能。
type FeatureNotAvailableError struct {
	Feature string
}

func (e *FeatureNotAvailableError) Error() string {
	return fmt.Sprintf("feature %q is not available on the current plan", e.Feature)
}

// IsLimitExceeded 判断错误是否为限额错误，并返回其明细。
func IsLimitExceeded(err error) (*LimitExceededError, bool) {
	var e *LimitExceededError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsFeatureNotAvailable 判断错误是否为功能门控错误，并返回其明细。
func IsFeatureNotAvailable(err error) (*FeatureNotAvailableError, bool) {
	var e *FeatureNotAvailableError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
