package services

import (
	"errors"
	"fmt"
)

// ErrorKind 区分领域错误类别，HTTP 层据此映射状态码。
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindSelfReference
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSelfReference:
		return "self_reference"
	default:
		return "unknown"
	}
}

// Error 为面向调用方的领域错误，Message 可直接返回给客户端。
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is 允许 errors.Is(err, &Error{Kind: KindX}) 按类别匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func AuthenticationError(msg string) error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func AuthorizationError(msg string) error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func NotFoundError(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ConflictError(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func SelfReferenceError(msg string) error {
	return &Error{Kind: KindSelfReference, Message: msg}
}

// KindOf 返回 err 链上的领域错误类别；非领域错误返回 0。
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// 常用的类别哨兵，仅用于 errors.Is 比较。
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrSelfReference  = &Error{Kind: KindSelfReference}
)
