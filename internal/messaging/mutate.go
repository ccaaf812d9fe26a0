package messaging

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
)

// Edit replaces the content of a text message. Only the sender may edit.
func (s *Service) Edit(ctx context.Context, actorID, messageID, content string) (msg models.Message, err error) {
	ctx, done := s.start(ctx, "edit", s.opts.StoreTimeout, attribute.String("message.id", messageID))
	defer func() { done(err) }()

	msg, err = s.loadMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != actorID {
		return models.Message{}, apperr.New(apperr.AccessDenied, "only the sender can edit this message")
	}
	if msg.Kind != models.KindText {
		return models.Message{}, apperr.New(apperr.InvalidArgument, "only text messages can be edited")
	}
	if strings.TrimSpace(content) == "" {
		return models.Message{}, apperr.New(apperr.InvalidArgument, "content is required")
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return models.Message{}, apperr.New(apperr.InvalidArgument, "content is too long")
	}

	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		return models.Message{}, storeErr("update message", err)
	}
	msg.Content = content
	msg.Edited = true

	payload := models.MessageEditedPayload{MessageID: msg.ID, ChatID: msg.ChatID, Content: content, Edited: true}
	s.emit(s.membersOf(ctx, msg.ChatID, actorID), models.EventMessageEdited, payload)
	s.publish(ctx, "message.edited", payload)
	s.auditf(ctx, "message.edited", actorID, "message edited by sender", map[string]string{"message_id": msg.ID, "chat_id": msg.ChatID})
	return msg, nil
}

// Delete hard-deletes a message. Only the sender may delete; attachment
// cleanup runs after the row is gone and never fails the call.
func (s *Service) Delete(ctx context.Context, actorID, messageID string) (err error) {
	ctx, done := s.start(ctx, "delete", s.opts.StoreTimeout, attribute.String("message.id", messageID))
	defer func() { done(err) }()

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != actorID {
		return apperr.New(apperr.AccessDenied, "only the sender can delete this message")
	}

	chat, chatErr := s.chats.GetChat(ctx, msg.ChatID)
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return storeErr("delete message", err)
	}
	if msg.Attachment != nil && s.uploadedBy(msg.Attachment.URL, actorID) {
		s.removeAttachment(ctx, msg.Attachment.URL)
	}

	var others []string
	if chatErr != nil {
		s.log.Warn().Err(chatErr).Str("chat_id", msg.ChatID).Msg("load chat after delete")
	} else {
		others = chat.OtherMembers(actorID)
		if chat.LatestMessageID != nil && *chat.LatestMessageID == messageID {
			if err := s.chats.RefreshLatestMessage(ctx, chat.ID); err != nil {
				s.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("refresh latest message")
			}
		}
	}

	payload := models.MessageDeletedPayload{MessageID: messageID, ChatID: msg.ChatID}
	s.emit(others, models.EventMessageDeleted, payload)
	s.publish(ctx, "message.deleted", payload)
	s.auditf(ctx, "message.deleted", actorID, "message deleted by sender", map[string]string{"message_id": messageID, "chat_id": msg.ChatID})
	return nil
}

// ToggleLike adds the actor's like or removes it if present. A retried
// toggle flips twice; callers that retry should use SetLiked.
func (s *Service) ToggleLike(ctx context.Context, actorID, messageID string) (likes []string, err error) {
	ctx, done := s.start(ctx, "toggle_like", s.opts.StoreTimeout, attribute.String("message.id", messageID))
	defer func() { done(err) }()

	return s.like(ctx, actorID, messageID, func(ctx context.Context) ([]string, error) {
		return s.messages.ToggleLike(ctx, messageID, actorID)
	})
}

// SetLiked makes the actor's like state equal liked. Safe to retry.
func (s *Service) SetLiked(ctx context.Context, actorID, messageID string, liked bool) (likes []string, err error) {
	ctx, done := s.start(ctx, "set_liked", s.opts.StoreTimeout, attribute.String("message.id", messageID), attribute.Bool("liked", liked))
	defer func() { done(err) }()

	return s.like(ctx, actorID, messageID, func(ctx context.Context) ([]string, error) {
		return s.messages.SetLike(ctx, messageID, actorID, liked)
	})
}

func (s *Service) like(ctx context.Context, actorID, messageID string, write func(context.Context) ([]string, error)) ([]string, error) {
	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	chat, err := s.memberChat(ctx, msg.ChatID, actorID)
	if err != nil {
		return nil, err
	}

	likes, err := write(ctx)
	if err != nil {
		return nil, storeErr("update likes", err)
	}

	payload := models.MessageLikedPayload{MessageID: messageID, ChatID: msg.ChatID, Likes: likes}
	s.emit(chat.OtherMembers(actorID), models.EventMessageLiked, payload)
	s.publish(ctx, "message.liked", payload)
	return likes, nil
}

// MarkRead records the actor's read receipt once. The sender reading their
// own message is a no-op that returns the current receipts.
func (s *Service) MarkRead(ctx context.Context, actorID, messageID string) (readBy []models.Receipt, err error) {
	ctx, done := s.start(ctx, "mark_read", s.opts.StoreTimeout, attribute.String("message.id", messageID))
	defer func() { done(err) }()

	msg, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == actorID {
		return msg.ReadBy, nil
	}
	chat, err := s.memberChat(ctx, msg.ChatID, actorID)
	if err != nil {
		return nil, err
	}

	added, readBy, err := s.messages.AddRead(ctx, messageID, actorID, s.now().UTC())
	if err != nil {
		return nil, storeErr("record read receipt", err)
	}
	if added {
		payload := models.MessageReadPayload{MessageID: messageID, ChatID: msg.ChatID, UserID: actorID, ReadBy: readBy}
		s.emit(chat.OtherMembers(actorID), models.EventMessageRead, payload)
		s.publish(ctx, "message.read", payload)
	}
	return readBy, nil
}

// List returns one page of a chat's history in chronological order. Pages
// are counted from the newest message: page 1 holds the most recent limit messages.
func (s *Service) List(ctx context.Context, actorID, chatID string, page, limit int) (result models.Page, err error) {
	ctx, done := s.start(ctx, "list", s.opts.StoreTimeout, attribute.String("chat.id", chatID))
	defer func() { done(err) }()

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}

	if _, err := s.memberChat(ctx, chatID, actorID); err != nil {
		return models.Page{}, err
	}

	msgs, err := s.messages.ListPage(ctx, chatID, (page-1)*limit, limit+1)
	if err != nil {
		return models.Page{}, storeErr("list messages", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return models.Page{Messages: msgs, Page: page, Limit: limit, HasMore: hasMore}, nil
}
