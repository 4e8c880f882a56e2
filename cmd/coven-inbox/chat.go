// ABOUTME: Interactive chat client wiring the session to the HTTP API and the WebSocket bridge
// ABOUTME: Reads commands from stdin and prints session changes as they are published

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/2389/coven-inbox/internal/api"
	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/bridge"
	"github.com/2389/coven-inbox/internal/chat"
	"github.com/2389/coven-inbox/internal/identity"
	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/session"
)

const chatHelp = `Commands:
  /list                         show conversations
  /open <n|id>                  open a conversation
  /close                        close the open conversation
  /read                         mark the open conversation read
  /refresh                      reload conversations
  /unread                       list unread messages
  /new <participant> [job] <text>  start a conversation, e.g. /new provider:9 42 hello
  /name <display name>          set your display name
  /help                         show this help
  /quit                         exit
Anything else is sent to the open conversation.`

// websocketURL turns the gateway base URL into the /ws endpoint.
func websocketURL(gatewayURL string) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("gateway url %q: unsupported scheme %q", gatewayURL, u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + api.PathWebSocket
	return u.String(), nil
}

type command struct {
	name string
	arg  string
}

// parseCommand splits "/open 2" into its name and argument. Plain text is
// a "send" command.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{name: "send", arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

// parseNewConversation parses "<participant> [job] <text>".
func parseNewConversation(arg string) (chat.SendRequest, error) {
	who, rest, _ := strings.Cut(arg, " ")
	p, err := identity.Parse(who)
	if err != nil {
		return chat.SendRequest{}, err
	}
	req := chat.SendRequest{Receiver: p, Content: strings.TrimSpace(rest)}
	if first, text, ok := strings.Cut(req.Content, " "); ok {
		if job, err := strconv.ParseInt(first, 10, 64); err == nil && job > 0 {
			req.Job = chat.JobRef(job)
			req.Content = strings.TrimSpace(text)
		}
	}
	return req, req.Validate()
}

type chatClient struct {
	sess    *session.Session
	backend *api.Client
	view    *chatView
	out     io.Writer
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	gatewayURL := fs.String("gateway", "", "gateway URL (overrides client.gateway_url)")
	token := fs.String("token", "", "participant token (overrides client.token)")
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *gatewayURL != "" {
		cfg.Client.GatewayURL = *gatewayURL
	}
	if *token != "" {
		cfg.Client.Token = *token
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	self, err := auth.SubjectOf(cfg.Client.Token)
	if err != nil {
		return fmt.Errorf("client.token: %w", err)
	}
	wsURL, err := websocketURL(cfg.Client.GatewayURL)
	if err != nil {
		return err
	}

	// Logs go to stderr so they do not interleave with the conversation.
	logger := setupLogger(cfg.Logging, os.Stderr)

	backend := api.NewClient(cfg.Client.GatewayURL, cfg.Client.Token,
		api.WithLogger(logger),
		api.WithHTTPClient(&http.Client{Timeout: cfg.Client.RequestTimeout}),
	)
	transport := realtime.NewClient(realtime.ClientOptions{
		URL:        wsURL,
		Token:      cfg.Client.Token,
		MinBackoff: cfg.Client.MinBackoff,
		MaxBackoff: cfg.Client.MaxBackoff,
		Logger:     logger,
	})
	br := bridge.New(transport, logger)

	sess, err := session.New(session.Options{
		Self:           self,
		Backend:        backend,
		Rooms:          br,
		Logger:         logger,
		RequestTimeout: cfg.Client.RequestTimeout,
		DedupeTTL:      cfg.Client.DedupeTTL,
		DedupeSize:     cfg.Client.DedupeSize,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := sess.Run(ctx); err != nil {
			logger.Error("session stopped", "error", err)
		}
	}()
	go func() {
		if err := br.Run(ctx, sess); err != nil {
			logger.Warn("real-time bridge stopped", "error", err)
		}
	}()

	c := &chatClient{sess: sess, backend: backend, view: newChatView(os.Stdout), out: os.Stdout}
	c.view.header(self, cfg.Client.GatewayURL)
	go c.follow(ctx)

	return c.readLoop(ctx, os.Stdin, logger)
}

// follow renders every published snapshot until ctx is done.
func (c *chatClient) follow(ctx context.Context) {
	c.view.render(c.sess.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sess.Changes():
			c.view.render(c.sess.Snapshot())
		}
	}
}

func (c *chatClient) readLoop(ctx context.Context, in io.Reader, logger *slog.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			quit, err := c.execute(ctx, parseCommand(line))
			if err != nil {
				c.view.errorf("%v", err)
				logger.Debug("command failed", "line", line, "error", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs one command. It reports true when the client should exit.
func (c *chatClient) execute(ctx context.Context, cmd command) (bool, error) {
	switch cmd.name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "h":
		fmt.Fprintln(c.out, chatHelp)
	case "list", "ls":
		c.view.list(c.sess.Snapshot())
	case "open":
		id, err := c.resolveConversation(cmd.arg)
		if err != nil {
			return false, err
		}
		return false, c.sess.Select(ctx, id)
	case "close":
		return false, c.sess.Deselect(ctx)
	case "read":
		snap := c.sess.Snapshot()
		ids := lo.FilterMap(snap.Messages, func(m chat.Message, _ int) (int64, bool) {
			return m.ID, !m.Read && m.AddressedTo(snap.Self)
		})
		if len(ids) == 0 {
			c.view.infof("nothing to mark read")
			return false, nil
		}
		return false, c.sess.MarkRead(ctx, ids)
	case "refresh":
		return false, c.sess.Refresh(ctx)
	case "unread":
		msgs, err := c.sess.UnreadMessages(ctx)
		if err != nil {
			return false, err
		}
		c.view.printUnread(msgs)
	case "new":
		req, err := parseNewConversation(cmd.arg)
		if err != nil {
			return false, err
		}
		if _, err := c.backend.Send(ctx, req); err != nil {
			return false, err
		}
		return false, c.sess.Refresh(ctx)
	case "name":
		if err := c.backend.UpdateProfile(ctx, api.ProfileUpdate{DisplayName: cmd.arg}); err != nil {
			return false, err
		}
		c.view.infof("display name set to %q", cmd.arg)
	case "send":
		return false, c.sess.Send(ctx, cmd.arg)
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", cmd.name)
	}
	return false, nil
}

// resolveConversation accepts a 1-based position in the listing or an id.
func (c *chatClient) resolveConversation(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: /open <n|id>")
	}
	snap := c.sess.Snapshot()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(snap.Conversations) {
			return "", fmt.Errorf("no conversation %d (have %d)", n, len(snap.Conversations))
		}
		return snap.Conversations[n-1].ID, nil
	}
	if _, ok := snap.Conversation(arg); !ok {
		return "", fmt.Errorf("unknown conversation %q", arg)
	}
	return arg, nil
}
