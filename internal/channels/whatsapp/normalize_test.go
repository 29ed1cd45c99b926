package whatsapp

import (
	"testing"
	"time"

	"github.com/clinicleads/leadflow/internal/bus"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		frame bridgeFrame
		want  *bus.NormalizedMessage
	}{
		{
			name: "text message",
			frame: bridgeFrame{
				Type:      "message",
				From:      "34600111222@s.whatsapp.net",
				FromName:  "Maria",
				ID:        "ABCDEF",
				Content:   "Hola, quiero información",
				Timestamp: 1756700000,
			},
			want: &bus.NormalizedMessage{
				Channel:          "whatsapp",
				ChannelMessageID: "ABCDEF",
				ChannelUserID:    "34600111222@s.whatsapp.net",
				SenderName:       "Maria",
				Content:          "Hola, quiero información",
				MediaType:        bus.MediaText,
			},
		},
		{
			name: "image message without caption",
			frame: bridgeFrame{
				Type:      "message",
				From:      "34600111222@s.whatsapp.net",
				ID:        "IMG1",
				MediaType: bus.MediaImage,
				MediaURL:  "https://bridge.local/media/IMG1",
			},
			want: &bus.NormalizedMessage{
				Channel:          "whatsapp",
				ChannelMessageID: "IMG1",
				ChannelUserID:    "34600111222@s.whatsapp.net",
				MediaType:        bus.MediaImage,
				MediaURL:         "https://bridge.local/media/IMG1",
			},
		},
		{
			name: "location message",
			frame: bridgeFrame{
				Type:      "message",
				From:      "34600111222@s.whatsapp.net",
				ID:        "LOC1",
				MediaType: bus.MediaLocation,
				Latitude:  41.38,
				Longitude: 2.17,
			},
			want: &bus.NormalizedMessage{
				Channel:          "whatsapp",
				ChannelMessageID: "LOC1",
				ChannelUserID:    "34600111222@s.whatsapp.net",
				MediaType:        bus.MediaLocation,
				Location:         &bus.Location{Latitude: 41.38, Longitude: 2.17},
			},
		},
		{
			name: "group chat dropped",
			frame: bridgeFrame{
				Type:    "message",
				From:    "120363041234567890@g.us",
				ID:      "GRP1",
				Content: "hi all",
			},
			want: nil,
		},
		{
			name: "empty text dropped",
			frame: bridgeFrame{
				Type: "message",
				From: "34600111222@s.whatsapp.net",
				ID:   "EMPTY",
			},
			want: nil,
		},
		{
			name:  "frame without sender dropped",
			frame: bridgeFrame{Type: "message", ID: "X"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize(tt.frame)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("normalize = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("normalize = nil, want message")
			}
			if got.Channel != tt.want.Channel ||
				got.ChannelMessageID != tt.want.ChannelMessageID ||
				got.ChannelUserID != tt.want.ChannelUserID ||
				got.SenderName != tt.want.SenderName ||
				got.Content != tt.want.Content ||
				got.MediaType != tt.want.MediaType ||
				got.MediaURL != tt.want.MediaURL {
				t.Errorf("normalize = %+v, want %+v", got, tt.want)
			}
			if tt.want.Location != nil {
				if got.Location == nil || *got.Location != *tt.want.Location {
					t.Errorf("location = %+v, want %+v", got.Location, tt.want.Location)
				}
			}
			if len(got.RawPayload) == 0 {
				t.Error("raw payload not preserved")
			}
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	frame := bridgeFrame{
		From:      "34600111222@s.whatsapp.net",
		ID:        "TS1",
		Content:   "hi",
		Timestamp: 1756700000,
	}
	got := normalize(frame)
	if got == nil {
		t.Fatal("normalize = nil")
	}
	if !got.Timestamp.Equal(time.Unix(1756700000, 0)) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}

	frame.Timestamp = 0
	got = normalize(frame)
	if time.Since(got.Timestamp) > time.Minute {
		t.Errorf("missing timestamp not defaulted to now: %v", got.Timestamp)
	}
}
