package apperr

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition 告警状态机不允许的状态迁移
var ErrInvalidTransition = errors.New("invalid alert state transition")

// ErrDuplicate 违反唯一约束，例如同一条件已存在未解决告警
var ErrDuplicate = errors.New("duplicate record")

// ValidationError 输入不合法，不重试
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InsufficientDataError 样本数不足，调用方沿用旧的健康分
type InsufficientDataError struct {
	AssetID string
	Have    int
	Need    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("asset %s: insufficient data (%d of %d samples)", e.AssetID, e.Have, e.Need)
}

// NotFoundError 资产或告警不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StorageError 存储层错误，在存储边界有限次重试后返回
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Validation 构造 ValidationError
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound 构造 NotFoundError
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}
