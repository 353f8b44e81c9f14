package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/net/html"

	"github.com/onnwee/chatlens/dom"
	"github.com/onnwee/chatlens/page"
)

const defaultMaxLines = 200

// TwitchConfig selects the channel to mirror. Without credentials the
// client joins anonymously (read-only).
type TwitchConfig struct {
	Channel     string
	Username    string
	OAuthToken  string
	MaxMessages int
}

// Line is one chat line rendered into the page.
type Line struct {
	ID     string
	User   string
	Color  string
	Text   string
	Self   bool
	SentAt time.Time
}

// TwitchSource renders a Twitch channel's chat as message bubbles inside a
// .message-list root.
type TwitchSource struct {
	cfg TwitchConfig
}

// NewTwitchSource returns a source for cfg.
func NewTwitchSource(cfg TwitchConfig) *TwitchSource {
	cfg.Channel = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.Channel)), "#")
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = defaultMaxLines
	}
	return &TwitchSource{cfg: cfg}
}

// TwitchLocation is the page location used for a channel.
func TwitchLocation(channel string) string {
	return "/twitch/" + channel
}

func (s *TwitchSource) newClient() *twitch.Client {
	if s.cfg.Username == "" || s.cfg.OAuthToken == "" {
		return twitch.NewAnonymousClient()
	}
	token := s.cfg.OAuthToken
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return twitch.NewClient(s.cfg.Username, token)
}

// Run joins the channel and appends every chat line to the page until ctx
// is done.
func (s *TwitchSource) Run(ctx context.Context, p *page.Page) error {
	if s.cfg.Channel == "" {
		return errors.New("twitch source: channel is required")
	}
	var list *html.Node
	if err := p.Call(ctx, func() {
		list = EnsureList(p.Document(), s.cfg.Channel)
		p.Navigate(TwitchLocation(s.cfg.Channel))
	}); err != nil {
		return err
	}

	client := s.newClient()
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		line := Line{
			ID:     msg.ID,
			User:   msg.User.DisplayName,
			Color:  msg.User.Color,
			Text:   msg.Message,
			Self:   s.cfg.Username != "" && strings.EqualFold(msg.User.Name, s.cfg.Username),
			SentAt: msg.Time,
		}
		if line.User == "" {
			line.User = msg.User.Name
		}
		p.Post(func() { AppendLine(p.Document(), list, line, s.cfg.MaxMessages) })
	})
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", s.cfg.Channel), slog.String("component", "source"))
	})

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
	}()

	client.Join(s.cfg.Channel)
	if err := client.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		return fmt.Errorf("twitch chat connect: %w", err)
	}
	return nil
}

var channelLists = dom.MustCompile(`.message-list[data-channel]`)

// EnsureList returns the channel's message list, creating it in the body
// when missing. The channel name is compared as an attribute value, never
// spliced into a selector.
func EnsureList(doc *dom.Document, channel string) *html.Node {
	for _, list := range channelLists.QueryAll(doc.Root()) {
		if dom.AttrValue(list, "data-channel") == channel {
			return list
		}
	}
	list := dom.Element("div", "class", "message-list", "data-channel", channel)
	doc.AppendChild(doc.Body(), list)
	return list
}

// RenderLine builds the message bubble for a line.
func RenderLine(line Line) *html.Node {
	self := "false"
	if line.Self {
		self = "true"
	}
	msg := dom.Element("div", "class", "chat-message", "data-is-self", self, "data-message-id", line.ID)
	author := dom.Element("span", "class", "chat-author")
	if line.Color != "" {
		author.Attr = append(author.Attr, html.Attribute{Key: "style", Val: "color:" + line.Color})
	}
	author.AppendChild(dom.TextNode(line.User))
	text := dom.Element("span", "class", "message-text")
	text.AppendChild(dom.TextNode(line.Text))
	msg.AppendChild(author)
	msg.AppendChild(text)
	if !line.SentAt.IsZero() {
		msg.Attr = append(msg.Attr, html.Attribute{Key: "data-sent-at", Val: line.SentAt.UTC().Format(time.RFC3339)})
	}
	return msg
}

// AppendLine adds a rendered line to list and drops the oldest lines beyond
// maxLines. It must run on the page loop.
func AppendLine(doc *dom.Document, list *html.Node, line Line, maxLines int) {
	if list == nil || strings.TrimSpace(line.Text) == "" {
		return
	}
	doc.AppendChild(list, RenderLine(line))
	if maxLines <= 0 {
		return
	}
	count := 0
	for c := list.FirstChild; c != nil; c = c.NextSibling {
		if dom.IsElement(c) {
			count++
		}
	}
	for c := list.FirstChild; c != nil && count > maxLines; {
		next := c.NextSibling
		if dom.IsElement(c) {
			doc.Remove(c)
			count--
		}
		c = next
	}
}
