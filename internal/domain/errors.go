package domain

import "errors"

// Sentinel ошибки доменного слоя
var (
	ErrCommentNotFound = errors.New("comment not found")
	ErrEmptyContent    = errors.New("comment content cannot be empty")
	ErrInvalidPost     = errors.New("invalid post id")
	ErrMalformedEvent  = errors.New("malformed push event")
	ErrNotMounted      = errors.New("post view is not mounted")
	ErrChannelClosed   = errors.New("push channel closed")
)
