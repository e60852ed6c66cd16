// Package channels defines the interfaces and types for zapclaw messaging
// transports. Each transport (WhatsApp, Discord) implements the Channel
// interface to receive and send messages in a unified way; the inbound
// pipeline consumes only these types and never touches a client library.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "texto"
	MessageAudio    MessageType = "audio"
	MessageImage    MessageType = "imagem"
	MessageVideo    MessageType = "video"
	MessageSticker  MessageType = "sticker"
	MessageLocation MessageType = "localizacao"
	MessageDocument MessageType = "documento"
)

// Channel defines the interface every messaging transport must implement.
type Channel interface {
	// Name returns the transport identifier (e.g. "whatsapp", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified recipient.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected reports whether the transport is connected.
	IsConnected() bool

	// Health returns the transport health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with media download capability.
type MediaChannel interface {
	Channel

	// DownloadMedia downloads the media attached to an incoming message.
	// Returns the raw bytes and MIME type.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// IncomingMessage represents a message received from any transport.
type IncomingMessage struct {
	// ID is the transport-native message identifier.
	ID string

	// Channel identifies the source transport (e.g. "whatsapp").
	Channel string

	// From is the counterpart identifier (phone number or user id).
	From string

	// FromName is the counterpart display name, when available.
	FromName string

	// Type is the detected message kind. Transports classify the native
	// envelope by inspecting content fields in fixed priority order:
	// text, audio, image, video, sticker, location, document.
	Type MessageType

	// Content is the text content: the message body for text messages,
	// the caption for media messages.
	Content string

	// Media describes the attachment, when the message carries one.
	Media *MediaInfo

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OutgoingMessage represents a message to be sent through a transport.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo is the transport-native id of the message being replied to,
	// when the transport supports threading.
	ReplyTo string
}

// MediaInfo describes media attached to an incoming message.
// WhatsApp media is end-to-end encrypted and addressed by path+keys;
// other transports use a plain URL.
type MediaInfo struct {
	// Type is the media kind.
	Type MessageType

	// MimeType is the MIME type as reported by the transport. May carry
	// parameters (e.g. "audio/ogg; codecs=opus") that consumers strip.
	MimeType string

	// Filename is the original filename (documents).
	Filename string

	// FileSize is the size in bytes.
	FileSize uint64

	// Duration is the duration in seconds (audio/video).
	Duration uint32

	// URL is a direct download URL when the transport serves media plainly.
	URL string

	// DirectPath is the WhatsApp media path.
	DirectPath string

	// MediaKey is the WhatsApp media encryption key.
	MediaKey []byte

	// FileSHA256 is the SHA256 of the decrypted file.
	FileSHA256 []byte

	// FileEncSHA256 is the SHA256 of the encrypted file.
	FileEncSHA256 []byte
}

// HealthStatus reports the operational state of a transport.
type HealthStatus struct {
	// Connected indicates an established connection.
	Connected bool

	// LastMessageAt is when the last message was received.
	LastMessageAt time.Time

	// ErrorCount is the number of errors since connect.
	ErrorCount int

	// Details carries transport-specific state descriptions.
	Details map[string]string
}

// Shared error values.
var (
	// ErrChannelDisconnected is returned when an operation requires a
	// connected transport.
	ErrChannelDisconnected = fmt.Errorf("canal desconectado")

	// ErrNoMedia is returned by DownloadMedia when the message has no
	// attachment.
	ErrNoMedia = fmt.Errorf("mensagem sem mídia")
)
