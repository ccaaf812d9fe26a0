// Command chatcli is a terminal chat client. It keeps one chat open, shows
// sends immediately and reconciles them with the server as answers and
// live events arrive.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatsync/internal/apperr"
	"chatsync/internal/logging"
	"chatsync/internal/models"
	"chatsync/internal/reconcile"
)

const help = `commands:
  <text>               send a message
  /edit <id> <text>    edit one of your messages
  /del <id>            delete one of your messages
  /like <id>           like or unlike
  /read <id>           mark as read
  /retry <id>          resend a failed message
  /more                load older messages
  /list                show the conversation
  /quit                exit`

func main() {
	server := flag.String("server", envOr("CHAT_SERVER", "http://localhost:8080"), "server base URL")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "bearer token")
	chatID := flag.String("chat", "", "chat id to open")
	with := flag.String("with", "", "open the direct chat with this user id instead of -chat")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Format: "console"})
	log := logging.Component("chatcli")

	if *token == "" {
		log.Fatal().Msg("a token is required (-token or CHAT_TOKEN)")
	}
	userID, err := subjectOf(*token)
	if err != nil {
		log.Fatal().Err(err).Msg("read token subject")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := reconcile.NewHTTPClient(*server, *token, nil)
	if *with != "" {
		chat, err := api.AccessDirect(ctx, *with)
		if err != nil {
			log.Fatal().Err(err).Msg("open direct chat")
		}
		*chatID = chat.ID
	}
	if *chatID == "" {
		listChats(ctx, api, os.Stdout)
		return
	}

	cache, err := reconcile.NewCache(reconcile.DefaultCachedChats, reconcile.DefaultCachedMessages)
	if err != nil {
		log.Fatal().Err(err).Msg("create cache")
	}
	session := reconcile.NewSession(api, *chatID, userID, reconcile.WithCache(cache))
	if err := session.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("load history")
	}
	render(os.Stdout, session.State(), userID)

	conn, err := newLive(*server, *token, *chatID, session, os.Stdout, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build live url")
	}
	go func() {
		if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("live connection stopped")
		}
	}()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, session, conn, userID, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func run(ctx context.Context, s *reconcile.Session, conn *live, userID, line string) bool {
	if line == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	cmd, rest, _ := strings.Cut(line, " ")
	target, text, _ := strings.Cut(rest, " ")
	target = expandID(s.State(), target)
	var err error
	switch cmd {
	case "/quit":
		return true
	case "/help":
		fmt.Println(help)
		return false
	case "/list":
	case "/more":
		var n int
		n, err = s.LoadOlder(ctx)
		if err == nil && n == 0 {
			fmt.Println("  no older messages")
		}
	case "/edit":
		err = s.Edit(ctx, target, text)
	case "/del":
		err = s.Delete(ctx, target)
	case "/like":
		err = s.ToggleLike(ctx, target)
	case "/read":
		err = s.MarkRead(ctx, target)
	case "/retry":
		err = s.Resend(ctx, target)
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Println(help)
			return false
		}
		typing := models.TypingPayload{ChatID: s.State().ChatID(), UserID: userID}
		_ = conn.Send(models.EventTyping, typing)
		_, err = s.Send(ctx, line)
		_ = conn.Send(models.EventStopTyping, typing)
	}
	if err != nil {
		fmt.Printf("  ! %s (%s)\n", apperr.Message(err), apperr.KindOf(err))
	}
	render(os.Stdout, s.State(), userID)
	return false
}

func render(w io.Writer, s reconcile.State, userID string) {
	entries := s.Entries()
	if len(entries) > 15 {
		entries = entries[len(entries)-15:]
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, e := range entries {
		switch e := e.(type) {
		case reconcile.Local:
			fmt.Fprintf(w, "%s  me: %s [%s]\n", e.At.Local().Format("15:04"), e.Draft.Content, e.State)
			if e.Err != "" {
				fmt.Fprintf(w, "        %s, /retry %s\n", e.Err, shortID(e.TempID))
			}
		case reconcile.Confirmed:
			m := e.Message
			who := m.SenderID
			if m.Sender != nil && m.Sender.Name != "" {
				who = m.Sender.Name
			}
			if m.SenderID == userID {
				who = "me"
			}
			text := m.Content
			if m.Attachment != nil {
				text = fmt.Sprintf("[%s] %s", m.Kind, m.Attachment.URL)
			}
			var marks []string
			if m.Edited {
				marks = append(marks, "edited")
			}
			if len(m.Likes) > 0 {
				marks = append(marks, fmt.Sprintf("%d likes", len(m.Likes)))
			}
			if m.SenderID == userID && len(m.ReadBy) > 0 {
				marks = append(marks, "read")
			}
			suffix := ""
			if len(marks) > 0 {
				suffix = " (" + strings.Join(marks, ", ") + ")"
			}
			fmt.Fprintf(w, "%s  %s: %s%s  #%s\n", m.CreatedAt.Local().Format("15:04"), who, text, suffix, shortID(m.ID))
		}
	}
}

func listChats(ctx context.Context, api *reconcile.HTTPClient, w io.Writer) {
	chats, err := api.ListChats(ctx)
	if err != nil {
		fmt.Fprintf(w, "list chats: %s\n", apperr.Message(err))
		return
	}
	for _, c := range chats {
		name := c.Name
		if c.Kind == models.ChatDirect {
			name = strings.Join(c.MemberIDs, " & ")
		}
		fmt.Fprintf(w, "%s  %-6s %s\n", c.ID, c.Kind, name)
	}
	fmt.Fprintln(w, "open one with -chat <id>")
}

// subjectOf reads the user id from the token without verifying it; the
// server does the verification.
func subjectOf(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// expandID turns the short id shown on screen back into a full one.
func expandID(s reconcile.State, prefix string) string {
	if prefix == "" {
		return prefix
	}
	match := ""
	for _, e := range s.Entries() {
		if strings.HasPrefix(e.Key(), prefix) {
			if match != "" {
				return prefix
			}
			match = e.Key()
		}
	}
	if match == "" {
		return prefix
	}
	return match
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
