// Package whatsappchat implements chat.Service over go.mau.fi/whatsmeow,
// grounded on the teacher's WhatsApp channel (gomikrobot/internal/channels),
// repointed at the narrower chat.Service boundary and a pure-Go sqlite
// device store.
package whatsappchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/datacontracts/shepherd/internal/chat"
)

// Service implements chat.Service against a personal WhatsApp account.
type Service struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	qrPath    string

	events chan chat.Event

	mu        sync.RWMutex
	nameCache map[string]string // JID string -> push name
}

// Config holds the bits New needs to open the device store and, on first
// run, render a pairing QR code to disk.
type Config struct {
	DBPath string // sqlite file, e.g. "$HOME/.shepherd/whatsapp.db"
	QRPath string // where to write the pairing QR code PNG
}

// New opens (or creates) the device store at cfg.DBPath. It does not connect
// until Run is called.
func New(ctx context.Context, cfg Config) (*Service, error) {
	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(ctx, "sqlite", "file:"+cfg.DBPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get whatsapp device: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	client := whatsmeow.NewClient(deviceStore, clientLog)

	s := &Service{
		client:    client,
		container: container,
		qrPath:    cfg.QRPath,
		events:    make(chan chat.Event, 100),
		nameCache: make(map[string]string),
	}
	client.AddEventHandler(s.eventHandler)
	return s, nil
}

// Run connects to WhatsApp, pairing via QR code if no session exists yet.
// Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.client.Store.ID == nil {
		if err := s.pair(ctx); err != nil {
			return err
		}
	} else if err := s.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}

	<-ctx.Done()
	s.client.Disconnect()
	return s.container.Close()
}

func (s *Service) pair(ctx context.Context) error {
	qrChan, _ := s.client.GetQRChannel(ctx)
	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsappchat: pairing event", "event", evt.Event)
			continue
		}
		if s.qrPath == "" {
			continue
		}
		if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, s.qrPath); err != nil {
			slog.Warn("whatsappchat: could not write pairing QR", "error", err)
			continue
		}
		slog.Info("whatsappchat: scan the pairing QR code to continue", "path", s.qrPath)
	}
	return nil
}

func (s *Service) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		text := v.Message.GetConversation()
		if text == "" {
			text = v.Message.GetExtendedTextMessage().GetText()
		}
		if text == "" {
			return
		}
		s.cacheName(v.Info.Sender, v.Info.PushName)

		root := ""
		if ctxInfo := v.Message.GetExtendedTextMessage().GetContextInfo(); ctxInfo != nil {
			root = ctxInfo.GetStanzaID()
		}
		s.events <- chat.Event{
			Kind:       chat.EventPosted,
			PostID:     v.Info.ID,
			ThreadRoot: root,
			Username:   v.Info.Sender.User,
			ChannelID:  v.Info.Chat.String(),
			IsDM:       v.Info.Chat.Server == types.DefaultUserServer,
			Text:       text,
		}
	case *events.GroupInfo:
		for _, jid := range v.Join {
			s.events <- chat.Event{Kind: chat.EventUserAdded, Username: jid.User, ChannelID: v.JID.String()}
		}
		for _, jid := range v.Leave {
			s.events <- chat.Event{Kind: chat.EventUserRemoved, Username: jid.User, ChannelID: v.JID.String()}
		}
	}
}

// Events returns the channel of inbound chat events.
func (s *Service) Events() <-chan chat.Event { return s.events }

// BotUserID returns this account's own JID.
func (s *Service) BotUserID() string {
	if s.client.Store.ID == nil {
		return ""
	}
	return s.client.Store.ID.User
}

// SendToChannel sends text to a chat JID. WhatsApp has no first-class reply
// thread concept at the Android/iOS UI level that whatsmeow exposes for
// group reply chains the way Slack does, so threadRoot is accepted but
// unused here: the text is sent as an ordinary message to the chat.
func (s *Service) SendToChannel(ctx context.Context, channelID, threadRoot, text string) (string, error) {
	jid, err := types.ParseJID(channelID)
	if err != nil {
		return "", fmt.Errorf("parse whatsapp jid %q: %w", channelID, err)
	}
	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", fmt.Errorf("whatsapp send message: %w", err)
	}
	return resp.ID, nil
}

// SendDM sends text directly to username's personal JID.
func (s *Service) SendDM(ctx context.Context, username, text string) error {
	jid, err := s.resolveJID(username)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("whatsapp send dm: %w", err)
	}
	return nil
}

// GetThread is not supported: whatsmeow has no API to fetch historical
// messages by id, only what arrives live through the event stream, so this
// always returns an error.
func (s *Service) GetThread(ctx context.Context, channelID, postID string) ([]chat.ThreadMessage, error) {
	return nil, fmt.Errorf("whatsappchat: thread history lookup is not supported by the WhatsApp API")
}

// GetUserInfo resolves username (a phone-number JID user part) to display
// info, using the push name last seen on an inbound message.
func (s *Service) GetUserInfo(ctx context.Context, username string) (chat.UserInfo, error) {
	jid, err := s.resolveJID(username)
	if err != nil {
		return chat.UserInfo{}, err
	}
	s.mu.RLock()
	name := s.nameCache[jid.User]
	s.mu.RUnlock()
	if name == "" {
		name = jid.User
	}
	return chat.UserInfo{Username: jid.User, DisplayName: name, ID: jid.String()}, nil
}

// ResolveUsername resolves a raw mention (a phone number, with or without a
// leading @ or +) to its canonical WhatsApp JID user part.
func (s *Service) ResolveUsername(ctx context.Context, mention string) (string, bool) {
	mention = strings.TrimPrefix(strings.TrimSpace(mention), "@")
	mention = strings.TrimPrefix(mention, "+")
	if mention == "" {
		return "", false
	}
	return mention, true
}

func (s *Service) resolveJID(username string) (types.JID, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	username = strings.TrimPrefix(username, "+")
	if username == "" {
		return types.JID{}, fmt.Errorf("whatsappchat: empty username")
	}
	return types.NewJID(username, types.DefaultUserServer), nil
}

func (s *Service) cacheName(jid types.JID, pushName string) {
	if pushName == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nameCache[jid.User] = pushName
}
