package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an update or lookup targets a draft that does
// not exist.
var ErrNotFound = errors.New("store: draft not found")

// ValidationError reports a missing required field on a write.
type ValidationError struct {
	Field string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: %s is required", e.Field)
}

// Draft is one synchronized draft record.
type Draft struct {
	ID          string    `json:"id"`
	Data        string    `json:"data"`
	UserID      string    `json:"userId"`
	StoryblokID string    `json:"storyblokId"`
	SavedDate   time.Time `json:"savedDate"`
}

// Update carries the partial fields of an update operation. Nil fields are
// left unchanged. SavedDate is refreshed by the store on every update.
type Update struct {
	Data        *string
	StoryblokID *string
}

// Filter selects drafts by owner, optionally narrowed to one Storyblok story.
type Filter struct {
	UserID      string
	StoryblokID string
}

// Store is the durable collaborator behind save, update, and get.
type Store interface {
	// Create persists a new draft. ID and SavedDate are assigned by the
	// store; a ValidationError is returned when a required field is empty.
	Create(ctx context.Context, draft Draft) (Draft, error)

	// UpdateByID applies partial fields to the draft with the given id and
	// refreshes its SavedDate. Returns ErrNotFound when no such draft exists.
	UpdateByID(ctx context.Context, id string, update Update) (Draft, error)

	// Query returns every draft matching the filter. The full result set is
	// returned; there is no pagination.
	Query(ctx context.Context, filter Filter) ([]Draft, error)
}

// Validate checks the required fields of a new draft.
func Validate(draft Draft) error {
	switch {
	case draft.Data == "":
		return &ValidationError{Field: "data"}
	case draft.UserID == "":
		return &ValidationError{Field: "userId"}
	case draft.StoryblokID == "":
		return &ValidationError{Field: "storyblokId"}
	}
	return nil
}
