package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field limits
const (
	MaxContentLength     = 2000
	MaxEmojiLength       = 50
	MinChannelNameLength = 2
	MaxChannelNameLength = 50
	MaxPageLimit         = 100
	DefaultHistoryLimit  = 50
	DefaultGlobalLimit   = 40
	// MinFullTextQueryLength is the shortest query served by the full-text index,
	// shorter queries fall back to substring matching
	MinFullTextQueryLength = 3
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// ValidateChannelID rejects zero and negative channel ids
func ValidateChannelID(channelID int64) error {
	if channelID <= 0 {
		return ErrInvalidChannelID
	}
	return nil
}

// ValidateContent checks message content is non-blank and within limits
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLarge
	}
	return nil
}

// ValidateEmoji checks an emoji is 1..50 characters
func ValidateEmoji(emoji string) error {
	n := utf8.RuneCountInString(emoji)
	if n < 1 || n > MaxEmojiLength || strings.TrimSpace(emoji) == "" {
		return ErrInvalidEmoji
	}
	return nil
}

// ValidateChannelName checks a channel name is 2..50 characters
func ValidateChannelName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinChannelNameLength || n > MaxChannelNameLength {
		return ErrInvalidChannelName
	}
	return nil
}

// ClampLimit applies the default for a missing (zero) limit and clamps the
// result to [1, MaxPageLimit]
func ClampLimit(limit, def int) int {
	if limit == 0 {
		limit = def
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// IsShortQuery reports whether a search term is served by substring matching
func IsShortQuery(term string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(term)) < MinFullTextQueryLength
}
