// Package messaging is the authoritative core for chat and message actions:
// it validates membership and input, persists through the repositories,
// returns the canonical record to the caller and fans events out to the
// other members.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chatsync/internal/apperr"
	"chatsync/internal/events"
	"chatsync/internal/logging"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/repositories"
)

// Emitter delivers live events to every connection of the given users.
type Emitter interface {
	EmitToUsers(userIDs []string, event string, payload any)
}

// AttachmentStore is the blob collaborator behind uploads.
type AttachmentStore interface {
	Upload(ctx context.Context, ownerID string, data []byte, contentType string, fileName string) (models.Attachment, error)
	Delete(ctx context.Context, url string) error
	// Owner returns the uploader of a stored object; ok is false for URLs
	// the store does not manage.
	Owner(url string) (owner string, ok bool)
}

// EventSink receives domain events for downstream consumers.
type EventSink interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Auditor records moderation-relevant actions.
type Auditor interface {
	Emit(ctx context.Context, action, userID, text string, resource map[string]string)
}

// Options bounds pagination and outbound calls.
type Options struct {
	PageSize      int
	MaxPageSize   int
	StoreTimeout  time.Duration
	UploadTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	if o.MaxPageSize < o.PageSize {
		o.MaxPageSize = 100
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 30 * time.Second
	}
	return o
}

// Deps are the optional collaborators; nil members are skipped.
type Deps struct {
	Attachments AttachmentStore
	Emitter     Emitter
	Events      EventSink
	Audit       Auditor
}

type Service struct {
	chats       repositories.ChatRepository
	messages    repositories.MessageRepository
	users       repositories.UserRepository
	attachments AttachmentStore
	emitter     Emitter
	events      EventSink
	audit       Auditor
	opts        Options
	now         func() time.Time
	newID       func() string
	log         zerolog.Logger
	tracer      trace.Tracer
}

func NewService(chats repositories.ChatRepository, messages repositories.MessageRepository, users repositories.UserRepository, deps Deps, opts Options) *Service {
	return &Service{
		chats:       chats,
		messages:    messages,
		users:       users,
		attachments: deps.Attachments,
		emitter:     deps.Emitter,
		events:      deps.Events,
		audit:       deps.Audit,
		opts:        opts.withDefaults(),
		now:         time.Now,
		newID:       uuid.NewString,
		log:         logging.Component("messaging"),
		tracer:      otel.Tracer("chatsync/messaging"),
	}
}

// start opens a span and a bounded context for op. The returned func must
// be called with the operation's final error.
func (s *Service) start(ctx context.Context, op string, timeout time.Duration, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "messaging."+op, trace.WithAttributes(attrs...))
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func(err error) {
		cancel()
		result := "ok"
		if err != nil {
			result = string(apperr.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		observability.ObserveMessageOp(op, result)
		span.End()
	}
}

// storeErr turns repository errors into the core taxonomy.
func storeErr(msg string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrMessageNotFound):
		return apperr.New(apperr.NotFound, "message not found")
	case errors.Is(err, repositories.ErrChatNotFound):
		return apperr.New(apperr.NotFound, "chat not found")
	case errors.Is(err, repositories.ErrUserNotFound):
		return apperr.New(apperr.NotFound, "user not found")
	case repositories.IsMalformedInput(err):
		return apperr.Wrap(apperr.InvalidArgument, "malformed id", err)
	}
	return apperr.FromStore(msg, err)
}

// memberChat loads chatID and checks that userID belongs to it.
func (s *Service) memberChat(ctx context.Context, chatID, userID string) (models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, storeErr("load chat", err)
	}
	if !chat.HasMember(userID) {
		return models.Chat{}, apperr.New(apperr.AccessDenied, "you are not a member of this chat")
	}
	return chat, nil
}

// loadMessage fetches a populated message by id.
func (s *Service) loadMessage(ctx context.Context, messageID string) (models.Message, error) {
	if messageID == "" {
		return models.Message{}, apperr.New(apperr.InvalidArgument, "message id is required")
	}
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, storeErr("load message", err)
	}
	return msg, nil
}

// membersOf returns the chat's members except actor, for fan-out. A failure
// here only costs live delivery, so it is logged rather than returned.
func (s *Service) membersOf(ctx context.Context, chatID, actorID string) []string {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		s.log.Warn().Err(err).Str("chat_id", chatID).Msg("load members for fan-out")
		return nil
	}
	return chat.OtherMembers(actorID)
}

func (s *Service) emit(userIDs []string, event string, payload any) {
	if s.emitter == nil || len(userIDs) == 0 {
		return
	}
	s.emitter.EmitToUsers(userIDs, event, payload)
}

func (s *Service) publish(ctx context.Context, name string, payload any) {
	if s.events == nil {
		return
	}
	env := events.NewEnvelope(ctx, "chat_events", name, payload)
	if err := s.events.Publish(ctx, "chat."+name, env); err != nil {
		s.log.Warn().Err(err).Str("event", name).Msg("publish domain event")
	}
}

func (s *Service) auditf(ctx context.Context, action, userID, text string, resource map[string]string) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, action, userID, text, resource)
}
