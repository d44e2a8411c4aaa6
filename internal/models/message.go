package models

import "time"

// MessageKind distinguishes new messages from source-side edits and deletions.
type MessageKind string

const (
	MessageNew     MessageKind = "new"
	MessageEdited  MessageKind = "edited"
	MessageDeleted MessageKind = "deleted"
)

// InboundMessage is a message observed on a source chat.
type InboundMessage struct {
	AccountID string      `json:"account_id"`
	Platform  Platform    `json:"platform"`
	ChatID    string      `json:"chat_id"`
	MessageID string      `json:"message_id"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	HasImage  bool        `json:"has_image"`
	HasMedia  bool        `json:"has_media"`
	// Attachments lists the media a copy can carry; unsupported kinds
	// (stickers, polls) set HasMedia without an entry here.
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
	Author      string       `json:"author,omitempty"`
	ChatTitle   string       `json:"chat_title,omitempty"`
	ArrivedAt   time.Time    `json:"arrived_at"`
}

// AttachmentKind selects how a destination uploads a media item.
type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is one media item of a source message. Telegram items arrive
// with a FileID only the source bot can use; URL is filled in once the
// source session resolves it. Discord items carry their CDN URL directly.
type Attachment struct {
	Kind        AttachmentKind `json:"kind"`
	FileID      string         `json:"file_id,omitempty"`
	URL         string         `json:"url,omitempty"`
	FileName    string         `json:"file_name,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Size        int64          `json:"size,omitempty"`
}

// Payload is the prepared outbound content handed to a platform client.
type Payload struct {
	// Forward requests a platform-native forward of SourceMessageID.
	Forward         bool   `json:"forward"`
	SourceChatID    string `json:"source_chat_id,omitempty"`
	SourceMessageID string `json:"source_message_id,omitempty"`
	Text            string `json:"text"`
	Attribution     string `json:"attribution,omitempty"`
	Silent          bool   `json:"silent"`
	HasMedia        bool   `json:"has_media"`
	ReplyToID       string `json:"reply_to_id,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
}

// Body returns the text to author, including the attribution line when set.
func (p Payload) Body() string {
	if p.Attribution == "" {
		return p.Text
	}
	if p.Text == "" {
		return p.Attribution
	}
	return p.Attribution + "\n" + p.Text
}

// DeliveryResult is returned by a successful send.
type DeliveryResult struct {
	MessageID   string    `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// DeliveryStatus is the recorded outcome of a task.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryEdited    DeliveryStatus = "edited"
	DeliveryDeleted   DeliveryStatus = "deleted"
	// DeliverySkipped marks a message with nothing deliverable left, e.g.
	// media-only content whose files could not be fetched.
	DeliverySkipped DeliveryStatus = "skipped"
)

// DeliveryLog records one terminal delivery outcome.
type DeliveryLog struct {
	ID              string         `json:"id" db:"id"`
	PairID          string         `json:"pair_id" db:"pair_id"`
	UserID          string         `json:"user_id" db:"user_id"`
	SourceMessageID string         `json:"source_message_id" db:"source_message_id"`
	DestMessageID   string         `json:"destination_message_id,omitempty" db:"dest_message_id"`
	Status          DeliveryStatus `json:"status" db:"status"`
	Error           string         `json:"error,omitempty" db:"error"`
	Attempts        int            `json:"attempts" db:"attempts"`
	ProcessingMs    int64          `json:"processing_ms" db:"processing_ms"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}
