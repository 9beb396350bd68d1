// Package normalize turns raw transport messages into the canonical
// webhook schema: sender resolution, payload classification and media
// materialization.
package normalize

import (
	"context"
	"encoding/base64"
	"mime"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"wabridge/internal/domain"
)

const unknownSender = "Unknown"

// Placeholder texts used when a media message carries no caption.
const (
	placeholderImage    = "[Image]"
	placeholderVoice    = "[Voice note]"
	placeholderVideo    = "[Video]"
	placeholderDocument = "[Document]"
)

// Normalize converts one raw message into its canonical form. The second
// return value is false when the message must not be forwarded: echoes of
// the account's own sends and unsupported payload shapes. Outbound
// messages are rejected before any media download is attempted.
func Normalize(ctx context.Context, raw domain.RawMessage, fetcher domain.MediaFetcher, now time.Time) (*domain.CanonicalMessage, bool) {
	if raw.FromMe {
		return nil, false
	}

	name := raw.PushName
	if name == "" {
		name = unknownSender
	}

	msg := &domain.CanonicalMessage{
		ID:                raw.ID,
		Sender:            domain.CanonicalSender(raw),
		SenderDisplayName: name,
		Timestamp:         raw.Timestamp.Unix(),
		Direction:         domain.DirectionInbound,
		ReceivedAt:        now,
	}

	switch p := raw.Payload.(type) {
	case domain.TextPayload:
		msg.Kind = domain.KindText
		msg.Text = p.Text

	case domain.ImagePayload:
		msg.Kind = domain.KindImage
		msg.Text = captionOr(p.Caption, placeholderImage)
		msg.Media = fetchMedia(ctx, fetcher, raw.MediaRef, &domain.Media{
			MimeType:      p.MimeType,
			FileSizeBytes: p.FileSizeBytes,
		}, "image")

	case domain.AudioPayload:
		msg.Kind = domain.KindAudio
		msg.Text = placeholderVoice
		msg.Media = fetchMedia(ctx, fetcher, raw.MediaRef, &domain.Media{
			MimeType:        p.MimeType,
			FileSizeBytes:   p.FileSizeBytes,
			DurationSeconds: p.DurationSeconds,
			IsVoiceNote:     p.IsVoiceNote,
		}, "audio")

	case domain.VideoPayload:
		msg.Kind = domain.KindVideo
		msg.Text = captionOr(p.Caption, placeholderVideo)
		msg.Media = fetchMedia(ctx, fetcher, raw.MediaRef, &domain.Media{
			MimeType:      p.MimeType,
			FileSizeBytes: p.FileSizeBytes,
		}, "video")

	case domain.DocumentPayload:
		msg.Kind = domain.KindDocument
		msg.Text = captionOr(p.Caption, placeholderDocument)
		msg.Media = fetchMedia(ctx, fetcher, raw.MediaRef, &domain.Media{
			MimeType:      p.MimeType,
			FileName:      p.FileName,
			FileSizeBytes: p.FileSizeBytes,
		}, "document")

	default:
		return nil, false
	}

	return msg, true
}

func captionOr(caption, placeholder string) string {
	if caption != "" {
		return caption
	}
	return placeholder
}

// fetchMedia downloads the attachment bytes and fills in payload or
// error. A failed download never suppresses the message itself.
func fetchMedia(ctx context.Context, fetcher domain.MediaFetcher, ref domain.MediaRef, media *domain.Media, baseName string) *domain.Media {
	if fetcher == nil || ref == nil {
		media.Error = "media not available"
		fillFileName(media, baseName, nil)
		return media
	}

	data, err := fetcher.FetchMedia(ctx, ref)
	if err != nil {
		media.Error = err.Error()
		fillFileName(media, baseName, nil)
		return media
	}

	media.Payload = base64.StdEncoding.EncodeToString(data)
	if media.FileSizeBytes == 0 {
		media.FileSizeBytes = uint64(len(data))
	}
	fillFileName(media, baseName, data)
	return media
}

// fillFileName derives a download filename when the message did not carry
// one: extension from the declared mime type, else sniffed from the
// bytes.
func fillFileName(media *domain.Media, baseName string, data []byte) {
	if media.FileName != "" {
		return
	}
	if exts, err := mime.ExtensionsByType(media.MimeType); err == nil && len(exts) > 0 {
		media.FileName = baseName + exts[0]
		return
	}
	if len(data) > 0 {
		media.FileName = baseName + mimetype.Detect(data).Extension()
		return
	}
	media.FileName = baseName
}
