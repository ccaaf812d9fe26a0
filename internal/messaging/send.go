package messaging

import (
	"context"
	"errors"
	"path"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

const (
	maxContentRunes = 10000
	maxClientIDLen  = 64
)

// SendInput is a message as submitted by its sender.
type SendInput struct {
	ActorID    string
	ChatID     string
	Kind       models.MessageKind
	Content    string
	Attachment *models.Attachment
	ReplyToID  string
	// ClientID is the sender's temporary id; repeating it returns the first record.
	ClientID string
}

// AttachmentInput is an upload that becomes a message.
type AttachmentInput struct {
	ActorID     string
	ChatID      string
	Data        []byte
	ContentType string
	FileName    string
	ReplyToID   string
	ClientID    string
}

func validateSend(in *SendInput) error {
	if in.ChatID == "" {
		return apperr.New(apperr.InvalidArgument, "chat id is required")
	}
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	if !in.Kind.Valid() {
		return apperr.Newf(apperr.InvalidArgument, "unknown message kind %q", in.Kind)
	}
	switch {
	case in.Kind == models.KindText && strings.TrimSpace(in.Content) == "":
		return apperr.New(apperr.InvalidArgument, "content is required for text messages")
	case in.Kind.RequiresAttachment() && (in.Attachment == nil || in.Attachment.URL == ""):
		return apperr.Newf(apperr.InvalidArgument, "attachment is required for %s messages", in.Kind)
	case in.Kind == models.KindText && in.Attachment != nil:
		return apperr.New(apperr.InvalidArgument, "text messages cannot carry an attachment")
	}
	if utf8.RuneCountInString(in.Content) > maxContentRunes {
		return apperr.New(apperr.InvalidArgument, "content is too long")
	}
	if len(in.ClientID) > maxClientIDLen {
		return apperr.New(apperr.InvalidArgument, "client id is too long")
	}
	return nil
}

// KindFromMIME picks the message kind for an uploaded file.
func KindFromMIME(contentType string) models.MessageKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.KindImage
	case strings.HasPrefix(contentType, "audio/"):
		return models.KindVoice
	default:
		return models.KindFile
	}
}

// Send validates and persists a message, records delivery receipts for the
// other members, moves the chat's latest-message pointer and returns the
// populated record. Other members receive it as message-created; the caller
// only gets the return value.
func (s *Service) Send(ctx context.Context, in SendInput) (msg models.Message, err error) {
	ctx, done := s.start(ctx, "send", s.opts.StoreTimeout, attribute.String("chat.id", in.ChatID))
	defer func() { done(err) }()

	if err := validateSend(&in); err != nil {
		return models.Message{}, err
	}
	chat, err := s.memberChat(ctx, in.ChatID, in.ActorID)
	if err != nil {
		return models.Message{}, err
	}
	if in.Attachment != nil && s.attachments != nil {
		if owner, ok := s.attachments.Owner(in.Attachment.URL); ok && owner != in.ActorID {
			return models.Message{}, apperr.New(apperr.AccessDenied, "attachment was uploaded by another user")
		}
	}
	msg, _, err = s.persist(ctx, chat, in)
	return msg, err
}

// SendAttachment uploads a file and sends it as an image, voice or file
// message. Membership is checked before anything is uploaded.
func (s *Service) SendAttachment(ctx context.Context, in AttachmentInput) (msg models.Message, err error) {
	ctx, done := s.start(ctx, "send_attachment", s.opts.UploadTimeout+s.opts.StoreTimeout, attribute.String("chat.id", in.ChatID))
	defer func() { done(err) }()

	if len(in.Data) == 0 {
		return models.Message{}, apperr.New(apperr.InvalidArgument, "file is required")
	}
	fileName := path.Base(strings.ReplaceAll(in.FileName, "\\", "/"))
	if fileName == "." || fileName == "/" {
		fileName = "attachment"
	}

	chat, err := s.memberChat(ctx, in.ChatID, in.ActorID)
	if err != nil {
		return models.Message{}, err
	}
	if s.attachments == nil {
		return models.Message{}, apperr.New(apperr.UploadFailed, "attachments are not configured")
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	att, err := s.attachments.Upload(uploadCtx, in.ActorID, in.Data, in.ContentType, fileName)
	cancel()
	if err != nil {
		return models.Message{}, apperr.Wrap(apperr.UploadFailed, "upload attachment", err)
	}

	send := SendInput{
		ActorID:    in.ActorID,
		ChatID:     in.ChatID,
		Kind:       KindFromMIME(in.ContentType),
		Content:    fileName,
		Attachment: &att,
		ReplyToID:  in.ReplyToID,
		ClientID:   in.ClientID,
	}
	created := false
	if err = validateSend(&send); err == nil {
		msg, created, err = s.persist(ctx, chat, send)
	}
	if !created {
		s.removeAttachment(ctx, att.URL)
	}
	return msg, err
}

// persist writes a validated message. created is false when the client id
// matched an earlier message, which is returned instead.
func (s *Service) persist(ctx context.Context, chat models.Chat, in SendInput) (models.Message, bool, error) {
	if in.ClientID != "" {
		existing, err := s.messages.FindByClientID(ctx, in.ActorID, in.ClientID)
		switch {
		case err == nil:
			return s.replay(existing, in)
		case !errors.Is(err, repositories.ErrMessageNotFound):
			return models.Message{}, false, storeErr("lookup client id", err)
		}
	}

	var replyTo *string
	if in.ReplyToID != "" {
		target, err := s.messages.Get(ctx, in.ReplyToID)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, false, apperr.New(apperr.InvalidArgument, "reply target not found")
		}
		if err != nil {
			return models.Message{}, false, storeErr("load reply target", err)
		}
		if target.ChatID != chat.ID {
			return models.Message{}, false, apperr.New(apperr.InvalidArgument, "reply target belongs to another chat")
		}
		replyTo = &target.ID
	}

	now := s.now().UTC()
	id := s.newID()
	err := s.messages.Create(ctx, repositories.NewMessage{
		ID:         id,
		ChatID:     chat.ID,
		SenderID:   in.ActorID,
		Kind:       in.Kind,
		Content:    in.Content,
		Attachment: in.Attachment,
		ReplyToID:  replyTo,
		ClientID:   in.ClientID,
		CreatedAt:  now,
	})
	if errors.Is(err, repositories.ErrDuplicateClientID) {
		existing, findErr := s.messages.FindByClientID(ctx, in.ActorID, in.ClientID)
		if findErr != nil {
			return models.Message{}, false, storeErr("lookup client id", findErr)
		}
		return s.replay(existing, in)
	}
	if err != nil {
		return models.Message{}, false, storeErr("create message", err)
	}

	others := chat.OtherMembers(in.ActorID)
	if err := s.messages.AddDeliveries(ctx, id, others, now); err != nil {
		s.log.Warn().Err(err).Str("message_id", id).Msg("record delivery receipts")
	}
	// The pointer is a separate write; a stale pointer is repaired by the next send.
	if err := s.chats.SetLatestMessage(ctx, chat.ID, id, now); err != nil {
		s.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("update latest message")
	}

	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return models.Message{}, true, storeErr("load created message", err)
	}

	s.emit(others, models.EventMessageCreated, models.MessageCreatedPayload{Message: msg})
	s.publish(ctx, "message.created", msg)
	return msg, true, nil
}

func (s *Service) replay(existing models.Message, in SendInput) (models.Message, bool, error) {
	if existing.ChatID != in.ChatID {
		return models.Message{}, false, apperr.New(apperr.InvalidArgument, "client id was already used in another chat")
	}
	s.log.Debug().Str("message_id", existing.ID).Str("client_id", in.ClientID).Msg("duplicate send replayed")
	return existing, false, nil
}

// uploadedBy reports whether url is an object in the attachment store that
// userID uploaded. External URLs are never cleaned up.
func (s *Service) uploadedBy(url, userID string) bool {
	if s.attachments == nil || url == "" {
		return false
	}
	owner, ok := s.attachments.Owner(url)
	return ok && owner == userID
}

func (s *Service) removeAttachment(ctx context.Context, url string) {
	if s.attachments == nil || url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
	defer cancel()
	if err := s.attachments.Delete(ctx, url); err != nil {
		s.log.Warn().Err(err).Str("url", url).Msg("attachment cleanup failed")
	}
}
