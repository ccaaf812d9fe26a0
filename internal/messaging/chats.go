package messaging

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"chatsync/internal/apperr"
	"chatsync/internal/models"
)

// AccessDirect returns the direct chat between actor and otherID, creating
// it on first use. created reports whether a new chat was stored.
func (s *Service) AccessDirect(ctx context.Context, actorID, otherID string) (chat models.Chat, created bool, err error) {
	ctx, done := s.start(ctx, "access_direct", s.opts.StoreTimeout)
	defer func() { done(err) }()

	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return models.Chat{}, false, apperr.New(apperr.InvalidArgument, "user id is required")
	}
	if otherID == actorID {
		return models.Chat{}, false, apperr.New(apperr.InvalidArgument, "cannot start a chat with yourself")
	}
	if _, err := s.users.Get(ctx, otherID); err != nil {
		return models.Chat{}, false, storeErr("load user", err)
	}

	chat, created, err = s.chats.FindOrCreateDirect(ctx, actorID, otherID)
	if err != nil {
		return models.Chat{}, false, storeErr("find or create direct chat", err)
	}
	chats := []models.Chat{chat}
	s.attachLatest(ctx, chats)
	if created {
		s.publish(ctx, "direct.created", chats[0])
	}
	return chats[0], created, nil
}

// CreateGroup stores a group with the actor as admin. At least two distinct
// other users must be invited.
func (s *Service) CreateGroup(ctx context.Context, actorID, name string, userIDs []string) (chat models.Chat, err error) {
	ctx, done := s.start(ctx, "create_group", s.opts.StoreTimeout, attribute.Int("group.invited", len(userIDs)))
	defer func() { done(err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return models.Chat{}, apperr.New(apperr.InvalidArgument, "group name is required")
	}

	seen := map[string]struct{}{actorID: {}}
	invited := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		invited = append(invited, id)
	}
	if len(invited) < models.MinGroupInvitees {
		return models.Chat{}, apperr.Newf(apperr.InvalidArgument, "a group needs at least %d other members", models.MinGroupInvitees)
	}

	n, err := s.users.CountExisting(ctx, invited)
	if err != nil {
		return models.Chat{}, storeErr("check users", err)
	}
	if n != len(invited) {
		return models.Chat{}, apperr.New(apperr.NotFound, "one or more users do not exist")
	}

	chat, err = s.chats.CreateGroup(ctx, name, actorID, append([]string{actorID}, invited...))
	if err != nil {
		return models.Chat{}, storeErr("create group", err)
	}
	s.publish(ctx, "group.created", chat)
	s.auditf(ctx, "group.created", actorID, "group created", map[string]string{"chat_id": chat.ID, "name": name})
	return chat, nil
}

// ListChats returns the actor's chats, most recently active first.
func (s *Service) ListChats(ctx context.Context, actorID string) (chats []models.Chat, err error) {
	ctx, done := s.start(ctx, "list_chats", s.opts.StoreTimeout)
	defer func() { done(err) }()

	chats, err = s.chats.ListForUser(ctx, actorID)
	if err != nil {
		return nil, storeErr("list chats", err)
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	s.attachLatest(ctx, chats)
	return chats, nil
}

// GetChat returns one chat the actor belongs to.
func (s *Service) GetChat(ctx context.Context, actorID, chatID string) (chat models.Chat, err error) {
	ctx, done := s.start(ctx, "get_chat", s.opts.StoreTimeout, attribute.String("chat.id", chatID))
	defer func() { done(err) }()

	chat, err = s.memberChat(ctx, chatID, actorID)
	if err != nil {
		return models.Chat{}, err
	}
	chats := []models.Chat{chat}
	s.attachLatest(ctx, chats)
	return chats[0], nil
}

// IsMember backs room authorization on the live channel.
func (s *Service) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	ok, err := s.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		return false, storeErr("check membership", err)
	}
	return ok, nil
}

// attachLatest resolves latest-message pointers in place. Missing messages
// leave the field empty; the list is still usable without them.
func (s *Service) attachLatest(ctx context.Context, chats []models.Chat) {
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		if c.LatestMessageID != nil {
			ids = append(ids, *c.LatestMessageID)
		}
	}
	if len(ids) == 0 {
		return
	}
	msgs, err := s.messages.GetMany(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Msg("load latest messages")
		return
	}
	byID := make(map[string]models.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	for i := range chats {
		if chats[i].LatestMessageID == nil {
			continue
		}
		if m, ok := byID[*chats[i].LatestMessageID]; ok {
			latest := m
			chats[i].LatestMessage = &latest
		}
	}
}
