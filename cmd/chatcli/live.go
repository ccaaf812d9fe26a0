package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/models"
	"chatsync/internal/reconcile"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// live keeps a websocket open to the server, reconnecting with exponential
// backoff, and feeds every frame into the session.
type live struct {
	url     string
	token   string
	chatID  string
	session *reconcile.Session
	out     io.Writer
	log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func newLive(serverURL, token, chatID string, session *reconcile.Session, out io.Writer, log zerolog.Logger) (*live, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return &live{url: u.String(), token: token, chatID: chatID, session: session, out: out, log: log}, nil
}

// Run blocks until ctx is done.
func (l *live) Run(ctx context.Context) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := l.serve(ctx, exp.Reset)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(exp, ctx), func(err error, wait time.Duration) {
		l.log.Warn().Err(err).Dur("retry_in", wait).Msg("live connection lost")
	})
}

func (l *live) serve(ctx context.Context, connected func()) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+l.token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, l.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return backoff.Permanent(errors.New("server rejected the token"))
		}
		return err
	}
	connected()
	l.setConn(conn)
	defer l.setConn(nil)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	if err := l.Send(models.EventJoin, models.JoinPayload{}); err != nil {
		return err
	}
	if err := l.Send(models.EventJoinChat, models.JoinChatPayload{ChatID: l.chatID}); err != nil {
		return err
	}
	l.log.Debug().Str("chat_id", l.chatID).Msg("live connection established")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			l.log.Warn().Err(err).Msg("undecodable frame")
			continue
		}
		l.handle(f)
	}
}

func (l *live) handle(f frame) {
	handled, err := l.session.Apply(f.Event, f.Data)
	if err != nil {
		l.log.Warn().Err(err).Str("event", f.Event).Msg("apply frame")
		return
	}
	if handled {
		return
	}
	switch f.Event {
	case models.EventUserTyping:
		var p models.TypingPayload
		if json.Unmarshal(f.Data, &p) == nil && p.ChatID == l.chatID {
			name := p.UserName
			if name == "" {
				name = p.UserID
			}
			fmt.Fprintf(l.out, "  %s is typing...\n", name)
		}
	case models.EventUserOnline:
		var p models.UserOnlinePayload
		if json.Unmarshal(f.Data, &p) == nil {
			fmt.Fprintf(l.out, "  %s is online\n", p.UserID)
		}
	case models.EventUserOffline:
		var p models.UserOfflinePayload
		if json.Unmarshal(f.Data, &p) == nil {
			fmt.Fprintf(l.out, "  %s went offline at %s\n", p.UserID, p.LastSeen.Local().Format(time.Kitchen))
		}
	case models.EventError:
		var p models.ErrorPayload
		if json.Unmarshal(f.Data, &p) == nil {
			l.log.Warn().Str("event", p.Event).Msg(p.Message)
		}
	}
}

// Send writes one frame if connected. Transient frames are dropped while
// reconnecting.
func (l *live) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteMessage(websocket.TextMessage, msg)
}

func (l *live) setConn(c *websocket.Conn) {
	l.mu.Lock()
	l.conn = c
	l.mu.Unlock()
}
