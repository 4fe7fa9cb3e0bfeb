package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxMessageBytes    = 4096 // 4KB max body size
	MaxTextChars       = 2000 // max character count
	MinUsernameChars   = 3
	MaxUsernameChars   = 20
	MaxAttachmentBytes = 5 << 20 // 5MB encoded payload
	MaxEmojiChars      = 8
)

var (
	// ErrEmptyMessage is returned when a message has neither text nor an
	// attachment.
	ErrEmptyMessage = errors.New("message text is empty")
)

// ValidateUsername checks that a username is 3–20 printable characters.
func ValidateUsername(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("username contains invalid UTF-8")
	}
	n := utf8.RuneCountInString(name)
	if n < MinUsernameChars || n > MaxUsernameChars {
		return fmt.Errorf("username must be %d-%d characters", MinUsernameChars, MaxUsernameChars)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("username has leading or trailing spaces")
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("username contains unprintable characters")
		}
	}
	return nil
}

// ValidateMessage checks that a chat message meets content requirements. The
// body may be empty when an attachment is present. maxAttachment caps the
// encoded attachment payload; a non-positive value uses MaxAttachmentBytes.
func ValidateMessage(text string, att *Attachment, maxAttachment int) error {
	if maxAttachment <= 0 {
		maxAttachment = MaxAttachmentBytes
	}
	if len(text) == 0 && att == nil {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if att != nil {
		if att.Name == "" {
			return fmt.Errorf("attachment name is empty")
		}
		if att.Payload == "" {
			return fmt.Errorf("attachment payload is empty")
		}
		if len(att.Payload) > maxAttachment {
			return fmt.Errorf("attachment exceeds %d byte limit", maxAttachment)
		}
	}
	return nil
}

// ValidateEmoji checks a reaction emoji.
func ValidateEmoji(emoji string) error {
	if emoji == "" {
		return fmt.Errorf("emoji is empty")
	}
	if !utf8.ValidString(emoji) || utf8.RuneCountInString(emoji) > MaxEmojiChars {
		return fmt.Errorf("emoji is not valid")
	}
	return nil
}
