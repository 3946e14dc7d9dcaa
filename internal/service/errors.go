package service

import (
	"errors"
	"fmt"
)

// ErrorKind 领域错误分类
type ErrorKind string

const (
	KindNotAuthenticated ErrorKind = "not_authenticated"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindValidation       ErrorKind = "validation_failed"
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindStorage          ErrorKind = "storage_error"
)

// Error 业务层返回给调用方的结构化错误
type Error struct {
	Kind        ErrorKind
	Code        string
	Message     string
	FieldErrors map[string][]string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同类同码即视为相等，便于 errors.Is(err, ErrNothingPending)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code && t.Code != ""
}

// ErrNothingPending 没有可完成的待评分（已完成或从未创建）
var ErrNothingPending = &Error{
	Kind:    KindConflict,
	Code:    "nothing_pending",
	Message: "没有待完成的评分",
}

func errNotAuthenticated() *Error {
	return &Error{Kind: KindNotAuthenticated, Code: "not_authenticated", Message: "请先登录"}
}

func errPermission(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Code: "permission_denied", Message: msg}
}

func errNotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func errConflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func errValidation(fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Message: "参数校验失败", FieldErrors: fields}
}

func errField(field, msg string) *Error {
	return errValidation(map[string][]string{field: {msg}})
}

func errStorage(err error) *Error {
	return &Error{Kind: KindStorage, Code: "storage_error", Message: "数据保存失败，请稍后再试", Err: err}
}

// AsError 取出 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 非领域错误一律视为存储错误
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindStorage
}
