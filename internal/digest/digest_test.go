package digest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/datacontracts/shepherd/internal/chat"
	"github.com/datacontracts/shepherd/internal/contract"
	"github.com/datacontracts/shepherd/internal/llm"
	"github.com/datacontracts/shepherd/internal/store"
)

type fakeChat struct{ posts []string }

func (f *fakeChat) Events() <-chan chat.Event { return nil }
func (f *fakeChat) SendToChannel(ctx context.Context, channelID, threadRoot, text string) (string, error) {
	f.posts = append(f.posts, text)
	return "p1", nil
}
func (f *fakeChat) SendDM(ctx context.Context, username, text string) error { return nil }
func (f *fakeChat) GetThread(ctx context.Context, channelID, postID string) ([]chat.ThreadMessage, error) {
	return nil, nil
}
func (f *fakeChat) GetUserInfo(ctx context.Context, username string) (chat.UserInfo, error) {
	return chat.UserInfo{Username: username}, nil
}
func (f *fakeChat) ResolveUsername(ctx context.Context, mention string) (string, bool) { return "", false }
func (f *fakeChat) BotUserID() string                                                  { return "bot" }

type stubLLM struct {
	content string
	lastReq *llm.ChatRequest
	err     error
}

func (s *stubLLM) DefaultModel() string { return "heavy-model" }
func (s *stubLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatResponse{Content: s.content}, nil
}

func TestRunPostsDigestToChannel(t *testing.T) {
	s, err := store.New(t.TempDir(), store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	idx := contract.Index{"win_percentage": {Name: "Win Percentage", Status: contract.StatusAgreed}}
	if err := s.WriteJSON(indexPath, idx); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	fc := &fakeChat{}
	sl := &stubLLM{content: "things look fine this week"}
	d := New(s, fc, sl, "C1")

	if err := d.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.posts) != 1 || fc.posts[0] != "things look fine this week" {
		t.Fatalf("expected the digest posted verbatim, got %v", fc.posts)
	}
	if sl.lastReq == nil || !strings.Contains(sl.lastReq.Messages[0].Content, "win_percentage") {
		t.Fatalf("expected the prompt to include the index, got %+v", sl.lastReq)
	}
}

func TestRunSkipsPostWhenModelReturnsEmpty(t *testing.T) {
	s, err := store.New(t.TempDir(), store.DefaultConfig())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	fc := &fakeChat{}
	sl := &stubLLM{content: ""}
	d := New(s, fc, sl, "C1")

	if err := d.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.posts) != 0 {
		t.Fatalf("expected no post for an empty model response, got %v", fc.posts)
	}
}
