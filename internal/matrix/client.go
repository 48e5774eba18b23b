// Package matrix provides the Matrix chat front end for Tachikoma.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// maxMessageBytes is the chunk size for outbound messages. Homeservers cap
// event size around 64 KiB; staying well below keeps formatted replies safe.
const maxMessageBytes = 4000

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are the room IDs the bot joins and answers in.
	Rooms []string
}

// MessageHandler processes incoming Matrix messages.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps the mautrix client.
type Client struct {
	client     *mautrix.Client
	config     *Config
	stopCh     chan struct{}
	msgHandler MessageHandler
}

// New creates a new Matrix client.
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	return &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}, nil
}

// Start joins the configured rooms and begins syncing with the homeserver.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.msgHandler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	// Sync in the background with exponential back-off reconnection. Without
	// retries a transient homeserver error would silently kill the sync
	// goroutine and leave the bot deaf to all new messages.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin // reset before each attempt
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returned nil — only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

// Stop stops the Matrix client.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends a text message to a room, splitting it into chunks when
// it exceeds the outbound size limit.
func (c *Client) SendMessage(roomID, message string) error {
	for _, chunk := range SplitMessage(message, maxMessageBytes) {
		if _, err := c.client.SendText(context.Background(), id.RoomID(roomID), chunk); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}

// ReplyToMessage sends a reply to a specific message. Long replies are
// chunked; only the first chunk carries the reply relation.
func (c *Client) ReplyToMessage(roomID, eventID, message string) error {
	chunks := SplitMessage(message, maxMessageBytes)
	for i, chunk := range chunks {
		content := event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    chunk,
		}
		if i == 0 {
			content.RelatesTo = &event.RelatesTo{
				InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
			}
		}
		if _, err := c.client.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, &content); err != nil {
			return fmt.Errorf("failed to send reply: %w", err)
		}
	}
	return nil
}

// SendNotice sends a notice message (less intrusive than normal messages).
func (c *Client) SendNotice(roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	_, err := c.client.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SetTyping sets the typing indicator.
func (c *Client) SetTyping(roomID string, typing bool, timeout time.Duration) error {
	_, err := c.client.UserTyping(context.Background(), id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// IsConfiguredRoom checks whether a room is one the bot answers in.
func (c *Client) IsConfiguredRoom(roomID string) bool {
	for _, room := range c.config.Rooms {
		if room == roomID {
			return true
		}
	}
	return false
}

// GetUserID returns the client's user ID.
func (c *Client) GetUserID() string {
	return c.config.UserID
}

// handleMessage filters incoming events before the registered handler sees
// them: own messages, non-text events, and foreign rooms are dropped.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}
	if !c.IsConfiguredRoom(evt.RoomID.String()) {
		return
	}
	if c.msgHandler != nil {
		c.msgHandler(ctx, evt)
	}
}

// joinRoom attempts to join a room.
func (c *Client) joinRoom(roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		// M_FORBIDDEN is returned when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

// SplitMessage cuts a message into chunks of at most limit bytes, preferring
// to break on newlines and falling back to hard cuts for a single long line.
func SplitMessage(message string, limit int) []string {
	if limit <= 0 || len(message) <= limit {
		return []string{message}
	}
	var chunks []string
	rest := message
	for len(rest) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}
