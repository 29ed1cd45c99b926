package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/clinicleads/leadflow/internal/bus"
)

// normalize converts a Telegram message into the channel-neutral inbound
// form. Returns nil for updates carrying nothing the pipeline can use.
func (c *Channel) normalize(ctx context.Context, msg *telego.Message) (*bus.NormalizedMessage, error) {
	if msg.From == nil {
		return nil, nil
	}

	n := &bus.NormalizedMessage{
		Channel:          "telegram",
		ChannelMessageID: strconv.Itoa(msg.MessageID),
		ChannelUserID:    strconv.FormatInt(msg.Chat.ID, 10),
		SenderName:       senderName(msg.From),
		SenderLanguage:   msg.From.LanguageCode,
		Content:          msg.Text,
		MediaType:        bus.MediaText,
		Timestamp:        time.Unix(msg.Date, 0),
	}

	if raw, err := json.Marshal(msg); err == nil {
		n.RawPayload = raw
	}

	switch {
	case len(msg.Photo) > 0:
		// Highest resolution is the last element.
		photo := msg.Photo[len(msg.Photo)-1]
		n.MediaType = bus.MediaImage
		n.Content = msg.Caption
		mediaURL, err := c.fileURL(ctx, photo.FileID)
		if err != nil {
			return nil, fmt.Errorf("resolve photo url: %w", err)
		}
		n.MediaURL = mediaURL
	case msg.Video != nil:
		n.MediaType = bus.MediaVideo
		n.Content = msg.Caption
		if mediaURL, err := c.fileURL(ctx, msg.Video.FileID); err == nil {
			n.MediaURL = mediaURL
		}
	case msg.Voice != nil:
		n.MediaType = bus.MediaAudio
		if mediaURL, err := c.fileURL(ctx, msg.Voice.FileID); err == nil {
			n.MediaURL = mediaURL
		}
	case msg.Audio != nil:
		n.MediaType = bus.MediaAudio
		n.Content = msg.Caption
		if mediaURL, err := c.fileURL(ctx, msg.Audio.FileID); err == nil {
			n.MediaURL = mediaURL
		}
	case msg.Document != nil:
		n.MediaType = bus.MediaDocument
		n.Content = msg.Caption
		if mediaURL, err := c.fileURL(ctx, msg.Document.FileID); err == nil {
			n.MediaURL = mediaURL
		}
	case msg.Sticker != nil:
		n.MediaType = bus.MediaSticker
	case msg.Location != nil:
		n.MediaType = bus.MediaLocation
		n.Location = &bus.Location{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
		}
	default:
		if strings.TrimSpace(msg.Text) == "" {
			return nil, nil
		}
	}

	return n, nil
}

// fileURL resolves a Telegram file_id to its Bot API download URL.
func (c *Channel) fileURL(ctx context.Context, fileID string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	return fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.config.Token, file.FilePath), nil
}

func senderName(u *telego.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
