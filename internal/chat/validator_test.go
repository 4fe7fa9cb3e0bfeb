package chat

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"ok", "alice", false},
		{"min length", "bob", false},
		{"max length", strings.Repeat("x", MaxUsernameChars), false},
		{"unicode", "zoë_ñ", false},
		{"empty", "", true},
		{"too short", "al", true},
		{"too long", strings.Repeat("x", MaxUsernameChars+1), true},
		{"padded", " alice ", true},
		{"control char", "al\x00ce", true},
		{"invalid utf8", "al\xffce", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	att := &Attachment{Name: "a.png", MimeType: "image/png", Payload: "data:image/png;base64,AAAA"}

	tests := []struct {
		name    string
		text    string
		att     *Attachment
		max     int
		wantErr bool
	}{
		{"text only", "hello", nil, 0, false},
		{"attachment only", "", att, 0, false},
		{"both", "look", att, 0, false},
		{"empty", "", nil, 0, true},
		{"too many bytes", strings.Repeat("a", MaxMessageBytes+1), nil, 0, true},
		{"too many chars", strings.Repeat("é", MaxTextChars+1), nil, 0, true},
		{"invalid utf8", "\xff\xfe", nil, 0, true},
		{"attachment without name", "", &Attachment{Payload: "x"}, 0, true},
		{"attachment without payload", "", &Attachment{Name: "x"}, 0, true},
		{"oversized attachment", "", &Attachment{Name: "big", Payload: strings.Repeat("a", 11)}, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text, tt.att, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateMessage("", nil, 0); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestValidateEmoji(t *testing.T) {
	if err := ValidateEmoji("👍"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateEmoji(""); err == nil {
		t.Error("expected error for empty emoji")
	}
	if err := ValidateEmoji(strings.Repeat("😀", MaxEmojiChars+1)); err == nil {
		t.Error("expected error for long emoji")
	}
}
