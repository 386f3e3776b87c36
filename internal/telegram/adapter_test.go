package telegram

import (
	"testing"

	"github.com/go-telegram/bot/models"

	"github.com/halcyonlabs/halcyon/internal/session"
)

func TestConfigValidate(t *testing.T) {
	config := Config{}
	if err := config.Validate(); err == nil {
		t.Error("want error for missing token")
	}

	config = Config{Token: "123:abc"}
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if config.Logger == nil {
		t.Error("logger default not applied")
	}
}

func TestThreadKey(t *testing.T) {
	a := &Adapter{selfID: 42}

	tests := []struct {
		name string
		msg  *models.Message
		want session.ThreadKey
	}{
		{
			name: "fresh message starts a new thread",
			msg:  &models.Message{ID: 10, Chat: models.Chat{ID: 7}},
			want: session.ThreadKey{AnchorMessageID: 10, ChatID: 7},
		},
		{
			name: "reply to the bot continues the thread",
			msg: &models.Message{
				ID:   11,
				Chat: models.Chat{ID: 7},
				ReplyToMessage: &models.Message{
					ID:   5,
					From: &models.User{ID: 42, IsBot: true},
				},
			},
			want: session.ThreadKey{AnchorMessageID: 5, ChatID: 7},
		},
		{
			name: "reply to another user starts a new thread",
			msg: &models.Message{
				ID:   12,
				Chat: models.Chat{ID: 7},
				ReplyToMessage: &models.Message{
					ID:   6,
					From: &models.User{ID: 99},
				},
			},
			want: session.ThreadKey{AnchorMessageID: 12, ChatID: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.threadKey(tt.msg); got != tt.want {
				t.Errorf("threadKey = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAllowedChats(t *testing.T) {
	a, err := NewAdapter(Config{Token: "123:abc", AllowedChats: []int64{7, 8}}, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if !a.allowed[7] || !a.allowed[8] || a.allowed[9] {
		t.Errorf("unexpected allowed set: %+v", a.allowed)
	}

	open, err := NewAdapter(Config{Token: "123:abc"}, nil)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if open.allowed != nil {
		t.Error("want nil allowed set when unrestricted")
	}
}
