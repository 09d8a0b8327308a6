// Package domain contains core domain types for the Lumi interview core.
package domain

import (
	"strings"
	"time"
)

// DefaultAppVersion is stamped on newly created settings records.
const DefaultAppVersion = "1.0.0"

// UserContext personalizes every prompt sent to the language model.
// It is a value type: callers replace it wholesale rather than mutating it.
type UserContext struct {
	UserName        string   `json:"user_name" yaml:"user_name" bson:"user_name"`
	UserDescription string   `json:"user_description" yaml:"user_description" bson:"user_description"`
	UserThemes      string   `json:"user_themes" yaml:"user_themes" bson:"user_themes"`
	MentionedNames  []string `json:"mentioned_names" yaml:"mentioned_names" bson:"mentioned_names"`
}

// DefaultUserContext returns the context used before the author has described themselves.
func DefaultUserContext() UserContext {
	return UserContext{
		UserName:        "the author",
		UserDescription: "an author",
		UserThemes:      "their life",
	}
}

// MentionedNamesList renders the mentioned names the way prompts expect them.
func (c UserContext) MentionedNamesList() string {
	return strings.Join(c.MentionedNames, ", ")
}

// WithDefaults fills blank scalar fields from DefaultUserContext.
func (c UserContext) WithDefaults() UserContext {
	d := DefaultUserContext()
	if strings.TrimSpace(c.UserName) == "" {
		c.UserName = d.UserName
	}
	if strings.TrimSpace(c.UserDescription) == "" {
		c.UserDescription = d.UserDescription
	}
	if strings.TrimSpace(c.UserThemes) == "" {
		c.UserThemes = d.UserThemes
	}
	names := make([]string, len(c.MentionedNames))
	copy(names, c.MentionedNames)
	c.MentionedNames = names
	return c
}

// AppSettings is the single per-user settings record.
type AppSettings struct {
	UserID      string      `json:"user_id"`
	AppVersion  string      `json:"app_version"`
	UserContext UserContext `json:"user_context"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewAppSettings returns settings with the default user context.
func NewAppSettings(userID string, now time.Time) *AppSettings {
	return &AppSettings{
		UserID:      userID,
		AppVersion:  DefaultAppVersion,
		UserContext: DefaultUserContext(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
