package wa

import (
	"strings"

	"go.mau.fi/whatsmeow/types/events"

	"wabridge/internal/domain"
)

// decodeMessage translates a provider message event into the transport
// boundary's closed payload set. Downstream code never sees the protobuf
// shapes; anything unrecognized becomes an Unsupported payload.
func decodeMessage(e *events.Message) domain.RawMessage {
	raw := domain.RawMessage{
		ID:        e.Info.ID,
		Chat:      e.Info.Chat.String(),
		PushName:  e.Info.PushName,
		FromMe:    e.Info.IsFromMe,
		Timestamp: e.Info.Timestamp,
	}
	if e.Info.IsGroup {
		raw.Participant = e.Info.Sender.String()
	}

	msg := e.Message
	if msg == nil {
		raw.Payload = domain.UnsupportedPayload{}
		return raw
	}

	switch {
	case msg.GetConversation() != "":
		raw.Payload = domain.TextPayload{Text: msg.GetConversation()}

	case msg.GetExtendedTextMessage() != nil:
		raw.Payload = domain.TextPayload{
			Text: strings.TrimSpace(msg.GetExtendedTextMessage().GetText()),
		}

	case msg.GetImageMessage() != nil:
		im := msg.GetImageMessage()
		raw.Payload = domain.ImagePayload{
			Caption:       im.GetCaption(),
			MimeType:      im.GetMimetype(),
			FileSizeBytes: im.GetFileLength(),
		}
		raw.MediaRef = msg

	case msg.GetAudioMessage() != nil:
		a := msg.GetAudioMessage()
		raw.Payload = domain.AudioPayload{
			MimeType:        a.GetMimetype(),
			FileSizeBytes:   a.GetFileLength(),
			DurationSeconds: a.GetSeconds(),
			IsVoiceNote:     a.GetPTT(),
		}
		raw.MediaRef = msg

	case msg.GetVideoMessage() != nil:
		v := msg.GetVideoMessage()
		raw.Payload = domain.VideoPayload{
			Caption:       v.GetCaption(),
			MimeType:      v.GetMimetype(),
			FileSizeBytes: v.GetFileLength(),
		}
		raw.MediaRef = msg

	case msg.GetDocumentMessage() != nil:
		d := msg.GetDocumentMessage()
		raw.Payload = domain.DocumentPayload{
			Caption:       d.GetCaption(),
			MimeType:      d.GetMimetype(),
			FileName:      d.GetFileName(),
			FileSizeBytes: d.GetFileLength(),
		}
		raw.MediaRef = msg

	default:
		// Reactions, polls, stickers, protocol messages and the rest.
		raw.Payload = domain.UnsupportedPayload{}
	}

	return raw
}
