// Package slackchat implements chat.Service over the Slack Socket Mode API,
// grounded on the event-handling shape of the teacher's channel bridge
// (cmd/channelbridge), repointed at the narrower chat.Service boundary.
package slackchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/datacontracts/shepherd/internal/chat"
)

// Service implements chat.Service against a real Slack workspace.
type Service struct {
	api    *slack.Client
	socket *socketmode.Client
	botID  string

	events chan chat.Event

	mu        sync.RWMutex
	userCache map[string]slack.User // keyed by lowercased username/display name
}

// New creates a Slack-backed chat.Service. botToken is the bot user OAuth
// token; appToken is the app-level token used for Socket Mode.
func New(botToken, appToken string) *Service {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	socket := socketmode.New(api)
	return &Service{
		api:       api,
		socket:    socket,
		events:    make(chan chat.Event, 100),
		userCache: make(map[string]slack.User),
	}
}

// Run starts the Socket Mode event loop. Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	s.botID = auth.UserID

	go func() {
		for evt := range s.socket.Events {
			s.handleSocketEvent(evt)
		}
	}()

	return s.socket.RunContext(ctx)
}

func (s *Service) handleSocketEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	if evt.Request != nil {
		s.socket.Ack(*evt.Request)
	}
	outer, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok || outer.Type != slackevents.CallbackEvent {
		return
	}

	switch in := outer.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if in == nil || in.User == s.botID || in.User == "" {
			return
		}
		s.events <- chat.Event{
			Kind:       chat.EventPosted,
			PostID:     in.TimeStamp,
			ThreadRoot: in.ThreadTimeStamp,
			Username:   in.User,
			ChannelID:  in.Channel,
			IsDM:       strings.HasPrefix(in.Channel, "D"),
			Text:       in.Text,
		}
	case *slackevents.MemberJoinedChannelEvent:
		if in == nil {
			return
		}
		s.events <- chat.Event{
			Kind:      chat.EventUserAdded,
			Username:  in.User,
			ChannelID: in.Channel,
		}
	case *slackevents.MemberLeftChannelEvent:
		if in == nil {
			return
		}
		s.events <- chat.Event{
			Kind:      chat.EventUserRemoved,
			Username:  in.User,
			ChannelID: in.Channel,
		}
	}
}

// Events returns the channel of inbound chat events.
func (s *Service) Events() <-chan chat.Event { return s.events }

// BotUserID returns Slack's user id for the bot itself.
func (s *Service) BotUserID() string { return s.botID }

// SendToChannel posts text to a Slack channel, as a threaded reply if
// threadRoot is non-empty.
func (s *Service) SendToChannel(ctx context.Context, channelID, threadRoot, text string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadRoot != "" {
		opts = append(opts, slack.MsgOptionTS(threadRoot))
	}
	_, ts, err := s.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post message: %w", err)
	}
	return ts, nil
}

// SendDM opens (or reuses) a direct-message channel with username and posts
// text to it.
func (s *Service) SendDM(ctx context.Context, username, text string) error {
	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return err
	}
	_, _, channelID, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{user.ID}})
	if err != nil {
		return fmt.Errorf("slack open dm: %w", err)
	}
	_, _, err = s.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return err
}

// GetThread returns the transcript of the thread rooted at postID.
func (s *Service) GetThread(ctx context.Context, channelID, postID string) ([]chat.ThreadMessage, error) {
	msgs, _, _, err := s.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: postID,
	})
	if err != nil {
		return nil, fmt.Errorf("slack get thread: %w", err)
	}
	out := make([]chat.ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chat.ThreadMessage{Username: m.User, Text: m.Text})
	}
	return out, nil
}

// GetUserInfo resolves username (a Slack user id) to display info.
func (s *Service) GetUserInfo(ctx context.Context, username string) (chat.UserInfo, error) {
	user, err := s.lookupUser(ctx, username)
	if err != nil {
		return chat.UserInfo{}, err
	}
	return chat.UserInfo{Username: user.Name, DisplayName: user.Profile.DisplayName, ID: user.ID}, nil
}

// ResolveUsername resolves a raw mention or display name to a Slack username
// (the user's Name field) by scanning the workspace's member list, per spec §4.1's role-assignment
// resolution requirement.
func (s *Service) ResolveUsername(ctx context.Context, mention string) (string, bool) {
	mention = strings.TrimPrefix(strings.TrimSpace(mention), "@")
	if user, err := s.lookupUser(ctx, mention); err == nil {
		return user.Name, true
	}

	users, err := s.api.GetUsersContext(ctx)
	if err != nil {
		slog.Warn("slackchat: could not list users for resolution", "error", err)
		return "", false
	}
	for _, u := range users {
		if strings.EqualFold(u.Name, mention) || strings.EqualFold(u.Profile.DisplayName, mention) || strings.EqualFold(u.RealName, mention) {
			s.cacheUser(u)
			return u.Name, true
		}
	}
	return "", false
}

func (s *Service) lookupUser(ctx context.Context, usernameOrID string) (slack.User, error) {
	key := strings.ToLower(usernameOrID)
	s.mu.RLock()
	if u, ok := s.userCache[key]; ok {
		s.mu.RUnlock()
		return u, nil
	}
	s.mu.RUnlock()

	user, err := s.api.GetUserInfoContext(ctx, usernameOrID)
	if err != nil {
		return slack.User{}, fmt.Errorf("slack lookup user %q: %w", usernameOrID, err)
	}
	s.cacheUser(*user)
	return *user, nil
}

func (s *Service) cacheUser(u slack.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCache[strings.ToLower(u.Name)] = u
	s.userCache[strings.ToLower(u.ID)] = u
}
