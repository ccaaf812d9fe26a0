// Package reconcile is the client-side model that merges optimistic local
// sends, confirmed server records, live broadcasts and history pages into a
// single ordered, duplicate-free message list per chat.
package reconcile

import (
	"time"

	"chatsync/internal/models"
)

type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Draft is what the user typed before the server assigned an id.
type Draft struct {
	ChatID     string
	Kind       models.MessageKind
	Content    string
	Attachment *models.Attachment
	ReplyToID  *string
}

// Entry is either a Local optimistic message or a Confirmed server record.
type Entry interface {
	Key() string
	Status() Status
	Time() time.Time
	isEntry()
}

// Local is an optimistic message keyed by its temporary id.
type Local struct {
	TempID string
	Draft  Draft
	State  Status
	At     time.Time
	Err    string
}

func (l Local) Key() string { return l.TempID }
func (l Local) Status() Status { return l.State }
func (l Local) Time() time.Time { return l.At }
func (Local) isEntry() {}

// Confirmed is a canonical record.
type Confirmed struct {
	Message models.Message
}

func (c Confirmed) Key() string { return c.Message.ID }
func (Confirmed) Status() Status { return StatusSent }
func (c Confirmed) Time() time.Time { return c.Message.CreatedAt }
func (Confirmed) isEntry() {}
