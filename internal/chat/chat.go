// Package chat defines the boundary between the agent core and the chat
// platform it runs inside (spec §6's "chat boundary interface"): a narrow
// Service interface plus the event shapes Listener consumes.
package chat

import "context"

// EventKind is the closed set of events a Service delivers.
type EventKind string

const (
	EventPosted       EventKind = "posted"
	EventUserAdded    EventKind = "user_added"
	EventUserRemoved  EventKind = "user_removed"
)

// Event is one inbound occurrence from the chat platform.
type Event struct {
	Kind        EventKind
	PostID      string
	ThreadRoot  string // empty if this post started a new thread
	Username    string
	ChannelID   string
	IsDM        bool
	Text        string
	MentionedBy string // for user_added/user_removed, who triggered the membership change
}

// ThreadMessage is one message in a thread transcript.
type ThreadMessage struct {
	Username string
	Text     string
}

// UserInfo is what the Agent needs to know about a chat user.
type UserInfo struct {
	Username    string
	DisplayName string
	ID          string
}

// Service is the narrow interface the Listener and Tool Executor use to
// talk to whatever chat platform the bot is deployed on.
type Service interface {
	// Events returns a channel of inbound events. Closed when the
	// underlying connection is permanently down.
	Events() <-chan Event

	// SendToChannel posts text to a channel, optionally as a threaded reply.
	SendToChannel(ctx context.Context, channelID, threadRoot, text string) (postID string, err error)
	// SendDM sends a direct message to username.
	SendDM(ctx context.Context, username, text string) error
	// GetThread returns the transcript of a thread rooted at postID.
	GetThread(ctx context.Context, channelID, postID string) ([]ThreadMessage, error)
	// GetUserInfo resolves a username to platform user info.
	GetUserInfo(ctx context.Context, username string) (UserInfo, error)
	// ResolveUsername resolves a raw mention or display name to a
	// canonical username. ok is false if no match was found.
	ResolveUsername(ctx context.Context, mention string) (username string, ok bool)
	// BotUserID returns the platform's identifier for the bot itself, so
	// Listener can ignore its own posts.
	BotUserID() string
}
