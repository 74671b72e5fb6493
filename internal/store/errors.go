package store

import "errors"

// ErrNotFound is returned when no ConversationLink exists for the identifier.
var ErrNotFound = errors.New("conversation link not found")
