// Package apperr 定义业务错误分类，handler 根据分类映射HTTP状态码
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	KindInternal          Kind = iota
	KindValidation             // 参数错误，不重试
	KindNotFound               // 记录不存在
	KindConflict               // 重复处理
	KindUnauthorized           // 无权限
	KindVerification           // 链上校验未通过
	KindCampaignCompleted      // 众筹已完成，拒绝新的贡献
	KindTransient              // 网络、限流、索引延迟，重试耗尽
	KindInsufficientFunds      // 余额或预留不足
	KindExternal               // 发币服务返回失败
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindVerification:
		return "verification_failed"
	case KindCampaignCompleted:
		return "campaign_completed"
	case KindTransient:
		return "transient"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindExternal:
		return "external_service"
	default:
		return "internal"
	}
}

// Error 带分类的业务错误，Message 可以直接展示给调用方
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...interface{}) error {
	return newError(KindValidation, nil, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newError(KindNotFound, nil, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newError(KindConflict, nil, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newError(KindUnauthorized, nil, format, args...)
}

func Verification(format string, args ...interface{}) error {
	return newError(KindVerification, nil, format, args...)
}

func CampaignCompleted(format string, args ...interface{}) error {
	return newError(KindCampaignCompleted, nil, format, args...)
}

func InsufficientFunds(format string, args ...interface{}) error {
	return newError(KindInsufficientFunds, nil, format, args...)
}

// Transient 包装重试耗尽的基础设施错误
func Transient(err error, format string, args ...interface{}) error {
	return newError(KindTransient, err, format, args...)
}

// External 包装发币服务错误
func External(err error, format string, args ...interface{}) error {
	return newError(KindExternal, err, format, args...)
}

// Internal 包装未分类错误
func Internal(err error, format string, args ...interface{}) error {
	return newError(KindInternal, err, format, args...)
}

// KindOf 返回错误链上第一个 *Error 的分类，没有则视为内部错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is 判断错误是否属于指定分类
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage 返回可以暴露给调用方的信息，内部错误不暴露细节
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindInternal {
			return "服务内部错误"
		}
		return e.Message
	}
	return "服务内部错误"
}
