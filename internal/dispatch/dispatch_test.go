package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"concierge/internal/catalog"
	"concierge/internal/intent"
	"concierge/internal/render"
	"concierge/internal/schedule"
	"concierge/internal/session"
	"concierge/internal/transport"
	"concierge/pkg/logging"
)

const (
	adminID = "966545888559@c.us"
	userID  = "966500000001@c.us"
)

type fakeSender struct {
	mu      sync.Mutex
	replies map[string][]string
	chats   []transport.Chat
}

func newFakeSender() *fakeSender {
	return &fakeSender{replies: make(map[string][]string)}
}

func (f *fakeSender) SendReply(ctx context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[conversationID] = append(f.replies[conversationID], text)
	return nil
}

func (f *fakeSender) Chats(ctx context.Context) ([]transport.Chat, error) {
	return f.chats, nil
}

func (f *fakeSender) sentTo(conversationID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.replies[conversationID]))
	copy(out, f.replies[conversationID])
	return out
}

type stubRunner struct {
	path string
	err  error
}

func (s *stubRunner) Run(ctx context.Context, job render.Job) (string, error) {
	return s.path, s.err
}

type fixture struct {
	dispatcher *Dispatcher
	sender     *fakeSender
	sessions   *session.Store
	seen       *session.SeenSet
	schedule   *schedule.Store
}

func newFixture(t *testing.T, runner render.Runner) *fixture {
	t.Helper()
	logger := logging.NewLogger()
	dir := t.TempDir()

	cat := catalog.Default()
	products := catalog.NewProductStore([]catalog.Product{
		{ID: "p1", Name: "عسل سدر", Category: "أغذية", Price: "120 ريال"},
	})
	sessions := session.NewStore()
	seen := session.NewSeenSet(filepath.Join(dir, "seen.json"), logger)
	store := schedule.NewStore(filepath.Join(dir, "schedule.json"), logger)

	if runner == nil {
		runner = &stubRunner{path: "/videos/out.mp4"}
	}
	queue := render.NewQueue(render.QueueConfig{Workers: 1, Capacity: 4, Runner: runner, Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue.Start(ctx)

	sender := newFakeSender()
	d := New(Config{
		Catalog:        cat,
		Products:       products,
		Resolver:       intent.NewResolver(cat, products),
		Sessions:       sessions,
		Seen:           seen,
		Schedule:       store,
		Renders:        queue,
		Sender:         sender,
		AdminID:        adminID,
		VIPIDs:         []string{"966511111111@c.us"},
		PostTime:       "18:00",
		BroadcastDelay: time.Millisecond,
		Logger:         logger,
	})
	return &fixture{dispatcher: d, sender: sender, sessions: sessions, seen: seen, schedule: store}
}

func inbound(from, body string) transport.Message {
	return transport.Message{From: from, Body: body}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFirstContactSendsCatalogOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, inbound(userID, "اهلا"))

	replies := f.sender.sentTo(userID)
	if len(replies) != 1 {
		t.Fatalf("expected exactly one catalog message, got %d", len(replies))
	}
	if !strings.Contains(replies[0], "*1*") {
		t.Errorf("expected numbered catalog, got %q", replies[0])
	}
	if got := f.sessions.Get(userID); got != session.StateSelecting {
		t.Errorf("expected SELECTING_SERVICE, got %s", got)
	}
	if !f.seen.Contains(userID) {
		t.Error("expected identifier recorded in seen set")
	}
}

func TestNumericSelectionSendsRequirements(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.dispatcher.HandleMessage(ctx, inbound(userID, "اهلا"))
	f.dispatcher.HandleMessage(ctx, inbound(userID, "2"))

	replies := f.sender.sentTo(userID)
	if len(replies) != 2 {
		t.Fatalf("expected catalog then requirements, got %d replies", len(replies))
	}
	svc, _ := catalog.Default().At(1)
	if replies[1] != svc.Requirements {
		t.Errorf("expected requirements for entry 2, got %q", replies[1])
	}
	if got := f.sessions.Get(userID); got != session.StateCompleted {
		t.Errorf("expected COMPLETED, got %s", got)
	}
}

func TestCompletedReopensOnServicesKeyword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)
	f.sessions.Set(userID, session.StateCompleted)

	f.dispatcher.HandleMessage(ctx, inbound(userID, "services"))

	if got := f.sessions.Get(userID); got != session.StateSelecting {
		t.Errorf("expected SELECTING_SERVICE, got %s", got)
	}
	if len(f.sender.sentTo(userID)) != 1 {
		t.Errorf("expected catalog resent once")
	}
}

func TestCompletedIgnoresUnrelatedText(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)
	f.sessions.Set(userID, session.StateCompleted)

	f.dispatcher.HandleMessage(ctx, inbound(userID, "شكرا جزيلا لك على الخدمة"))

	if got := f.sessions.Get(userID); got != session.StateCompleted {
		t.Errorf("expected state to stay COMPLETED, got %s", got)
	}
	if replies := f.sender.sentTo(userID); len(replies) != 0 {
		t.Errorf("expected silence, got %v", replies)
	}
}

func TestSelectingNonNumericGoesSilentlyCompleted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)
	f.sessions.Set(userID, session.StateSelecting)

	f.dispatcher.HandleMessage(ctx, inbound(userID, "كلام لا علاقة له بالخدمات"))

	if got := f.sessions.Get(userID); got != session.StateCompleted {
		t.Errorf("expected COMPLETED, got %s", got)
	}
	if replies := f.sender.sentTo(userID); len(replies) != 0 {
		t.Errorf("expected no reply, got %v", replies)
	}
}

func TestCompletedNumericReentersSelection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)
	f.sessions.Set(userID, session.StateCompleted)

	f.dispatcher.HandleMessage(ctx, inbound(userID, "3"))

	replies := f.sender.sentTo(userID)
	if len(replies) != 1 {
		t.Fatalf("expected one requirements message, got %d", len(replies))
	}
	svc, _ := catalog.Default().At(2)
	if replies[0] != svc.Requirements {
		t.Errorf("expected requirements for entry 3, got %q", replies[0])
	}
	if got := f.sessions.Get(userID); got != session.StateCompleted {
		t.Errorf("expected COMPLETED after selection, got %s", got)
	}
}

func TestGroupMessagesIgnored(t *testing.T) {
	f := newFixture(t, nil)
	msg := inbound(userID, "خدمات")
	msg.IsGroup = true
	f.dispatcher.HandleMessage(context.Background(), msg)
	if replies := f.sender.sentTo(userID); len(replies) != 0 {
		t.Errorf("expected group message to be dropped, got %v", replies)
	}
}

func TestOwnMessagesIgnoredOutsideAllowList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)

	msg := inbound(userID, "شكرا")
	msg.FromMe = true
	f.dispatcher.HandleMessage(ctx, msg)
	if replies := f.sender.sentTo(userID); len(replies) != 0 {
		t.Errorf("expected own message to be ignored, got %v", replies)
	}
}

func TestVIPAlwaysGetsCatalog(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	vip := "966511111111@c.us"
	f.seen.MarkSeen(vip)
	f.sessions.Set(vip, session.StateCompleted)

	f.dispatcher.HandleMessage(ctx, inbound(vip, "اي كلام"))

	replies := f.sender.sentTo(vip)
	if len(replies) != 1 || !strings.Contains(replies[0], "*1*") {
		t.Errorf("expected catalog for VIP regardless of state, got %v", replies)
	}
}

func TestAdminBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(adminID)
	f.sender.chats = []transport.Chat{
		{ID: "a@c.us"},
		{ID: "group@g.us", IsGroup: true},
		{ID: adminID},
		{ID: "b@c.us"},
	}

	f.dispatcher.HandleMessage(ctx, inbound(adminID, "!broadcast عرض اليوم"))

	if got := f.sender.sentTo("a@c.us"); len(got) != 1 || got[0] != "عرض اليوم" {
		t.Errorf("expected broadcast to a@c.us, got %v", got)
	}
	if got := f.sender.sentTo("b@c.us"); len(got) != 1 {
		t.Errorf("expected broadcast to b@c.us, got %v", got)
	}
	if got := f.sender.sentTo("group@g.us"); len(got) != 0 {
		t.Errorf("expected groups skipped, got %v", got)
	}
	confirmation := f.sender.sentTo(adminID)
	if len(confirmation) != 1 || !strings.Contains(confirmation[0], "2") {
		t.Errorf("expected confirmation naming 2 chats, got %v", confirmation)
	}
}

func TestBroadcastRequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)
	f.sessions.Set(userID, session.StateCompleted)
	f.sender.chats = []transport.Chat{{ID: "a@c.us"}}

	f.dispatcher.HandleMessage(ctx, inbound(userID, "!broadcast تجربة"))

	if got := f.sender.sentTo("a@c.us"); len(got) != 0 {
		t.Errorf("expected no fan-out for non-admin, got %v", got)
	}
}

func TestPromoSchedulesRenderedVideo(t *testing.T) {
	f := newFixture(t, &stubRunner{path: "/videos/p1.mp4"})
	ctx := context.Background()
	f.seen.MarkSeen(adminID)

	f.dispatcher.HandleMessage(ctx, inbound(adminID, "اعمل اعلان عن عسل سدر"))

	// The queued acknowledgement is sent before the render finishes.
	if replies := f.sender.sentTo(adminID); len(replies) < 1 || replies[0] != promoQueuedText {
		t.Fatalf("expected immediate queued reply, got %v", replies)
	}

	waitFor(t, func() bool {
		date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
		return len(f.schedule.Posts(date)) == 1
	})
	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	post := f.schedule.Posts(date)[0]
	if post.VideoPath != "/videos/p1.mp4" {
		t.Errorf("unexpected video path %q", post.VideoPath)
	}
	if post.Time != "18:00" {
		t.Errorf("expected post scheduled for 18:00, got %q", post.Time)
	}

	waitFor(t, func() bool { return len(f.sender.sentTo(adminID)) == 2 })
}

func TestPromoRenderFailureReported(t *testing.T) {
	f := newFixture(t, &stubRunner{err: errors.New("chromium crashed")})
	ctx := context.Background()
	f.seen.MarkSeen(adminID)

	f.dispatcher.HandleMessage(ctx, inbound(adminID, "اعمل اعلان عن عسل سدر"))

	waitFor(t, func() bool { return len(f.sender.sentTo(adminID)) == 2 })
	replies := f.sender.sentTo(adminID)
	if !strings.HasPrefix(replies[1], "video generation failed: ") {
		t.Errorf("expected render failure reply, got %q", replies[1])
	}
	if len(f.schedule.ListAll()) != 0 {
		t.Error("expected no post scheduled on failure")
	}
}

func TestSelectingUserCommandSilentlyCompleted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)
	f.sessions.Set(userID, session.StateSelecting)

	f.dispatcher.HandleMessage(ctx, inbound(userID, "ping"))

	if replies := f.sender.sentTo(userID); len(replies) != 0 {
		t.Errorf("expected non-selection input to be swallowed, got %v", replies)
	}
	if got := f.sessions.Get(userID); got != session.StateCompleted {
		t.Errorf("expected COMPLETED, got %s", got)
	}
}

func TestInitialUserCommandGetsWelcome(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(userID)

	f.dispatcher.HandleMessage(ctx, inbound(userID, "ping"))

	replies := f.sender.sentTo(userID)
	if len(replies) != 1 || !strings.Contains(replies[0], "*1*") {
		t.Fatalf("expected welcome catalog, got %v", replies)
	}
	if replies[0] == "pong" {
		t.Error("expected no pong for a user still in the conversation flow")
	}
	if got := f.sessions.Get(userID); got != session.StateSelecting {
		t.Errorf("expected SELECTING_SERVICE, got %s", got)
	}
}

func TestAdminCommandsBypassConversationFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seen.MarkSeen(adminID)
	f.sessions.Set(adminID, session.StateSelecting)

	f.dispatcher.HandleMessage(ctx, inbound(adminID, "ping"))

	replies := f.sender.sentTo(adminID)
	if len(replies) != 1 || replies[0] != "pong" {
		t.Fatalf("expected pong for admin regardless of state, got %v", replies)
	}
	if got := f.sessions.Get(adminID); got != session.StateSelecting {
		t.Errorf("expected state untouched, got %s", got)
	}
}

func TestAutoReplyDisabledRunsCommandsOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.autoReply = false
	ctx := context.Background()
	f.seen.MarkSeen(userID)

	f.dispatcher.HandleMessage(ctx, inbound(userID, "ping"))
	if replies := f.sender.sentTo(userID); len(replies) != 1 || replies[0] != "pong" {
		t.Fatalf("expected pong with auto-reply off, got %v", replies)
	}

	f.dispatcher.HandleMessage(ctx, inbound(userID, "كلام عابر لا يطابق شيئا"))
	if replies := f.sender.sentTo(userID); len(replies) != 1 {
		t.Errorf("expected unmatched text to stay silent, got %v", replies)
	}
	if got := f.sessions.Get(userID); got != session.StateInitial {
		t.Errorf("expected no state transitions with auto-reply off, got %s", got)
	}
}

func TestProcessChat(t *testing.T) {
	f := newFixture(t, &stubRunner{path: "/videos/p1.mp4"})
	ctx := context.Background()

	if reply, err := f.dispatcher.ProcessChat(ctx, "ping"); err != nil || reply != "pong" {
		t.Errorf("expected pong, got %q err=%v", reply, err)
	}
	if reply, err := f.dispatcher.ProcessChat(ctx, "خدمات"); err != nil || !strings.Contains(reply, "*1*") {
		t.Errorf("expected catalog, got %q err=%v", reply, err)
	}

	reply, err := f.dispatcher.ProcessChat(ctx, "اعمل اعلان عن عسل سدر")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "18:00") {
		t.Errorf("expected scheduling confirmation, got %q", reply)
	}
	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	if len(f.schedule.Posts(date)) != 1 {
		t.Error("expected dashboard promo to schedule a post")
	}
}

func TestGeneratePost(t *testing.T) {
	f := newFixture(t, &stubRunner{path: "/videos/gen.mp4"})
	post, date, err := f.dispatcher.GeneratePost(context.Background(), "نص الإعلان")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	if date != want {
		t.Errorf("expected next-day date %s, got %s", want, date)
	}
	if post.VideoPath != "/videos/gen.mp4" || post.Caption != "نص الإعلان" {
		t.Errorf("unexpected post %+v", post)
	}
	if len(f.schedule.Posts(date)) != 1 {
		t.Error("expected generated post persisted")
	}
}
