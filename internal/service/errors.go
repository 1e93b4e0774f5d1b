package service

import (
	"errors"
	"fmt"
)

// 错误分类。调用方用 errors.Is 判断类别，HTTP 层据此映射状态码。
var (
	ErrNotFound     = errors.New("not found")
	ErrRoomFull     = errors.New("room is full")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInvalidInput = errors.New("invalid input")
	ErrStorage      = errors.New("storage failure")
)

// 具体的业务错误，均归属于上面的某个类别
var (
	ErrRoomNotFound   = newReasonError(ErrNotFound, "room not found or expired")
	ErrRoomExpired    = newReasonError(ErrNotFound, "room has expired")
	ErrPostNotFound   = newReasonError(ErrNotFound, "post not found")
	ErrNotParticipant = newReasonError(ErrNotFound, "session has not joined this room")
	ErrInvalidSession = errors.New("invalid session token")
)

// reasonError 携带面向用户的说明，同时 Unwrap 到所属类别。
type reasonError struct {
	class  error
	reason string
}

func newReasonError(class error, reason string) error {
	return &reasonError{class: class, reason: reason}
}

func (e *reasonError) Error() string { return e.reason }
func (e *reasonError) Unwrap() error { return e.class }

func invalidInput(format string, args ...interface{}) error {
	return newReasonError(ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storageError 把存储层错误包装为 ErrStorage，保留原始错误链
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
