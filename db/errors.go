package db

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound is returned when a conversation id does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned when a message id does not exist in its conversation.
	ErrMessageNotFound = errors.New("message not found")
	// ErrMemoryNotFound is returned when a memory item id does not exist.
	ErrMemoryNotFound = errors.New("memory item not found")
)

// PersistenceError reports a failed backend read or write of a document.
type PersistenceError struct {
	Op  string // "read" or "write"
	Doc string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Doc, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AttachmentError reports a failed attachment copy or read.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }
