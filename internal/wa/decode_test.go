package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"wabridge/internal/domain"
)

func msgEvent(msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   types.NewJID("5511999", types.DefaultUserServer),
				Sender: types.NewJID("5511999", types.DefaultUserServer),
			},
			ID:        "ABCD1234",
			PushName:  "Alice",
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestDecode_Conversation(t *testing.T) {
	raw := decodeMessage(msgEvent(&waE2E.Message{Conversation: proto.String("hello")}))

	if raw.ID != "ABCD1234" || raw.PushName != "Alice" {
		t.Fatalf("metadata lost: %+v", raw)
	}
	p, ok := raw.Payload.(domain.TextPayload)
	if !ok || p.Text != "hello" {
		t.Fatalf("unexpected payload: %#v", raw.Payload)
	}
	if raw.MediaRef != nil {
		t.Fatal("text message must not carry a media ref")
	}
	if raw.Participant != "" {
		t.Fatalf("direct chat has no participant, got %q", raw.Participant)
	}
}

func TestDecode_ExtendedTextTrimmed(t *testing.T) {
	raw := decodeMessage(msgEvent(&waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("  quoted reply \n")},
	}))
	p, ok := raw.Payload.(domain.TextPayload)
	if !ok || p.Text != "quoted reply" {
		t.Fatalf("unexpected payload: %#v", raw.Payload)
	}
}

func TestDecode_GroupParticipant(t *testing.T) {
	e := msgEvent(&waE2E.Message{Conversation: proto.String("hi all")})
	e.Info.Chat = types.NewJID("12036304", types.GroupServer)
	e.Info.Sender = types.NewJID("5511999", types.DefaultUserServer)
	e.Info.IsGroup = true

	raw := decodeMessage(e)
	if raw.Participant != "5511999@s.whatsapp.net" {
		t.Fatalf("unexpected participant: %q", raw.Participant)
	}
	if raw.Chat != "12036304@g.us" {
		t.Fatalf("unexpected chat: %q", raw.Chat)
	}
}

func TestDecode_Image(t *testing.T) {
	msg := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:    proto.String("sunset"),
			Mimetype:   proto.String("image/jpeg"),
			FileLength: proto.Uint64(2048),
		},
	}
	raw := decodeMessage(msgEvent(msg))

	p, ok := raw.Payload.(domain.ImagePayload)
	if !ok {
		t.Fatalf("unexpected payload: %#v", raw.Payload)
	}
	if p.Caption != "sunset" || p.MimeType != "image/jpeg" || p.FileSizeBytes != 2048 {
		t.Fatalf("unexpected image payload: %+v", p)
	}
	if raw.MediaRef == nil {
		t.Fatal("image message must carry a media ref")
	}
}

func TestDecode_VoiceNote(t *testing.T) {
	msg := &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			Mimetype: proto.String("audio/ogg; codecs=opus"),
			Seconds:  proto.Uint32(9),
			PTT:      proto.Bool(true),
		},
	}
	raw := decodeMessage(msgEvent(msg))

	p, ok := raw.Payload.(domain.AudioPayload)
	if !ok {
		t.Fatalf("unexpected payload: %#v", raw.Payload)
	}
	if p.DurationSeconds != 9 || !p.IsVoiceNote {
		t.Fatalf("unexpected audio payload: %+v", p)
	}
}

func TestDecode_Document(t *testing.T) {
	msg := &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			FileName: proto.String("invoice.pdf"),
			Mimetype: proto.String("application/pdf"),
		},
	}
	raw := decodeMessage(msgEvent(msg))

	p, ok := raw.Payload.(domain.DocumentPayload)
	if !ok || p.FileName != "invoice.pdf" {
		t.Fatalf("unexpected payload: %#v", raw.Payload)
	}
}

func TestDecode_UnsupportedShapes(t *testing.T) {
	cases := map[string]*waE2E.Message{
		"nil message": nil,
		"reaction": {
			ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("👍")},
		},
		"sticker": {
			StickerMessage: &waE2E.StickerMessage{Mimetype: proto.String("image/webp")},
		},
	}
	for name, msg := range cases {
		raw := decodeMessage(msgEvent(msg))
		if _, ok := raw.Payload.(domain.UnsupportedPayload); !ok {
			t.Errorf("%s: expected UnsupportedPayload, got %#v", name, raw.Payload)
		}
	}
}
