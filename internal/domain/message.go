package domain

import "time"

// Direction tells whether a message was produced by the account itself
// (echo of an outbound send) or by a remote party.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageKind classifies the payload of a canonical message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

// Media carries the materialized attachment of a non-text message.
// Exactly one of Payload and Error is set when a download was attempted.
type Media struct {
	MimeType        string `json:"mimeType,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	FileSizeBytes   uint64 `json:"fileSizeBytes,omitempty"`
	Payload         string `json:"payload,omitempty"` // base64
	Error           string `json:"error,omitempty"`
	DurationSeconds uint32 `json:"durationSeconds,omitempty"`
	IsVoiceNote     bool   `json:"isVoiceNote,omitempty"`
}

// CanonicalMessage is the schema-stable representation of one inbound
// chat event, as delivered to the webhook consumer.
type CanonicalMessage struct {
	ID                string      `json:"id"`
	Text              string      `json:"text"`
	Sender            string      `json:"sender"`
	SenderDisplayName string      `json:"senderName"`
	Timestamp         int64       `json:"timestamp"`
	Direction         Direction   `json:"direction"`
	Kind              MessageKind `json:"type"`
	Media             *Media      `json:"media,omitempty"`
	InstanceID        string      `json:"clientId,omitempty"`
	ReceivedAt        time.Time   `json:"receivedAt"`
}

// RawMessage is a single inbound message as decoded at the transport
// boundary. The payload is a closed variant set so downstream code never
// inspects provider-specific shapes.
type RawMessage struct {
	ID          string
	Chat        string // conversation address
	Participant string // group participant address, empty for direct chats
	PushName    string
	FromMe      bool
	Timestamp   time.Time
	Payload     RawPayload
	MediaRef    MediaRef // opaque handle for FetchMedia, nil for text
}

// MediaRef is an opaque provider handle used to retrieve media bytes.
type MediaRef any

// RawPayload is one of TextPayload, ImagePayload, AudioPayload,
// VideoPayload, DocumentPayload or UnsupportedPayload.
type RawPayload interface {
	rawPayload()
}

type TextPayload struct {
	Text string
}

type ImagePayload struct {
	Caption       string
	MimeType      string
	FileSizeBytes uint64
}

type AudioPayload struct {
	MimeType        string
	FileSizeBytes   uint64
	DurationSeconds uint32
	IsVoiceNote     bool
}

type VideoPayload struct {
	Caption       string
	MimeType      string
	FileSizeBytes uint64
}

type DocumentPayload struct {
	Caption       string
	MimeType      string
	FileName      string
	FileSizeBytes uint64
}

// UnsupportedPayload marks message shapes the gateway does not forward
// (reactions, polls, stickers, protocol messages, ...).
type UnsupportedPayload struct{}

func (TextPayload) rawPayload()        {}
func (ImagePayload) rawPayload()       {}
func (AudioPayload) rawPayload()       {}
func (VideoPayload) rawPayload()       {}
func (DocumentPayload) rawPayload()    {}
func (UnsupportedPayload) rawPayload() {}
