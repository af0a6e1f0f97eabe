package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/datacontracts/shepherd/internal/audit"
	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/store"
)

type fakeChat struct {
	channelPosts []string
	dms          []string
	nextPostID   string
}

func (f *fakeChat) Events() <-chan chat.Event { return nil }
func (f *fakeChat) SendToChannel(ctx context.Context, channelID, threadRoot, text string) (string, error) {
	f.channelPosts = append(f.channelPosts, text)
	if f.nextPostID != "" {
		return f.nextPostID, nil
	}
	return "generated-post-id", nil
}
func (f *fakeChat) SendDM(ctx context.Context, username, text string) error {
	f.dms = append(f.dms, username+":"+text)
	return nil
}
func (f *fakeChat) GetThread(ctx context.Context, channelID, postID string) ([]chat.ThreadMessage, error) {
	return nil, nil
}
func (f *fakeChat) GetUserInfo(ctx context.Context, username string) (chat.UserInfo, error) {
	return chat.UserInfo{Username: username}, nil
}
func (f *fakeChat) ResolveUsername(ctx context.Context, mention string) (string, bool) { return "", false }
func (f *fakeChat) BotUserID() string                                                  { return "bot" }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeChat) {
	t.Helper()
	s, err := store.New(t.TempDir(), store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	fc := &fakeChat{nextPostID: "thread-root-1"}
	log := audit.NewLog(s, "memory/audit.jsonl", nil)
	return New(fc, log, "C1"), fc
}

func TestStartThreadReturnsNewThreadID(t *testing.T) {
	d, fc := newTestDispatcher(t)
	id, err := d.Dispatch(context.Background(), Action{Type: ActionStartThread, ContractID: "win_ni", Message: "hello"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id != "thread-root-1" {
		t.Fatalf("expected the new thread id, got %q", id)
	}
	if len(fc.channelPosts) != 1 || fc.channelPosts[0] != "hello" {
		t.Fatalf("expected channel post, got %v", fc.channelPosts)
	}
}

func TestAskQuestionRequiresThreadID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if _, err := d.Dispatch(context.Background(), Action{Type: ActionAskQuestion, ContractID: "win_ni", Message: "why?"}); err == nil {
		t.Fatal("expected an error for a missing thread id")
	}
}

func TestAskQuestionPostsInThread(t *testing.T) {
	d, fc := newTestDispatcher(t)
	id, err := d.Dispatch(context.Background(), Action{Type: ActionAskQuestion, ContractID: "win_ni", ThreadID: "t1", Message: "why?"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if id != "t1" {
		t.Fatalf("expected the thread id unchanged, got %q", id)
	}
	if len(fc.channelPosts) != 1 || fc.channelPosts[0] != "why?" {
		t.Fatalf("expected the question posted in the thread, got %v", fc.channelPosts)
	}
}

func TestEscalateSendsDM(t *testing.T) {
	d, fc := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), Action{Type: ActionEscalate, ContractID: "win_ni", ThreadID: "t1", Recipient: "alexey", Message: "stalled"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(fc.dms) != 1 || !strings.Contains(fc.dms[0], "alexey") {
		t.Fatalf("expected a DM to alexey, got %v", fc.dms)
	}
}

func TestEscalateRequiresRecipient(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if _, err := d.Dispatch(context.Background(), Action{Type: ActionEscalate, ContractID: "win_ni", ThreadID: "t1"}); err == nil {
		t.Fatal("expected an error for a missing recipient")
	}
}

func TestUnknownActionTypeErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if _, err := d.Dispatch(context.Background(), Action{Type: "bogus", ContractID: "win_ni"}); err == nil {
		t.Fatal("expected an error for an unknown action type")
	}
}
