package models

import "time"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
	KindVoice MessageKind = "voice"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindVoice:
		return true
	}
	return false
}

// RequiresAttachment is true for every non-text kind.
func (k MessageKind) RequiresAttachment() bool {
	return k == KindImage || k == KindFile || k == KindVoice
}

type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// Receipt is a per-user read or delivery acknowledgement.
type Receipt struct {
	UserID string    `db:"user_id" json:"user_id"`
	At     time.Time `db:"at" json:"at"`
}

// ReplyPreview is the resolved message a reply points at.
type ReplyPreview struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	Kind       MessageKind `json:"kind"`
	Content    string      `json:"content"`
}

// Message is the canonical, populated message record.
type Message struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chat_id"`
	SenderID    string        `json:"sender_id"`
	Kind        MessageKind   `json:"kind"`
	Content     string        `json:"content"`
	Attachment  *Attachment   `json:"attachment,omitempty"`
	ReplyToID   *string       `json:"reply_to_id,omitempty"`
	ClientID    string        `json:"client_id,omitempty"`
	Edited      bool          `json:"edited"`
	CreatedAt   time.Time     `json:"created_at"`
	Likes       []string      `json:"likes"`
	ReadBy      []Receipt     `json:"read_by"`
	DeliveredTo []Receipt     `json:"delivered_to"`
	Sender      *UserSummary  `json:"sender,omitempty"`
	ReplyTo     *ReplyPreview `json:"reply_to,omitempty"`
}

func (m Message) LikedBy(userID string) bool {
	for _, id := range m.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// Page is one page of a chat's history in chronological order.
type Page struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	HasMore  bool      `json:"has_more"`
}
