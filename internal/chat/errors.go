package chat

import "errors"

var (
	ErrEmptyBody    = errors.New("message body is empty")
	ErrBodyTooLong  = errors.New("message body exceeds the size limit")
	ErrUserNotFound = errors.New("recipient or sender not found")
)
