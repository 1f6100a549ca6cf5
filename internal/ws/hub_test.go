package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatify/internal/model"
	"github.com/chatify/internal/repository"
	"github.com/chatify/internal/storage/memory"
)

// -------- test fakes --------

type fakeDirectory struct {
	mu       sync.Mutex
	channels map[string]*model.Channel
	buddies  map[string][]string
}

func (f *fakeDirectory) GetByID(_ context.Context, id string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeDirectory) IsBuddy(_ context.Context, channelID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.buddies[channelID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDirectory) GetBuddyIDs(_ context.Context, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.buddies[channelID]...), nil
}

type fakeMessages struct {
	mu        sync.Mutex
	byChannel map[string][]model.Message
	hidden    map[string]map[string]struct{}
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		byChannel: make(map[string][]model.Message),
		hidden:    make(map[string]map[string]struct{}),
	}
}

func (f *fakeMessages) Append(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Seq = int64(len(f.byChannel[m.ChannelID])) + 1
	f.byChannel[m.ChannelID] = append(f.byChannel[m.ChannelID], *m)
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msgs := range f.byChannel {
		for i := range msgs {
			if msgs[i].ID == id {
				cp := msgs[i]
				return &cp, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeMessages) Backlog(_ context.Context, channelID string, fromSeq int64, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.byChannel[channelID] {
		if m.Seq > fromSeq {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMessages) HiddenSet(_ context.Context, _ string, userID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.hidden[userID]))
	for id := range f.hidden[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeMessages) HideForSelf(_ context.Context, messageID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hidden[userID] == nil {
		f.hidden[userID] = make(map[string]struct{})
	}
	f.hidden[userID][messageID] = struct{}{}
	return nil
}

func (f *fakeMessages) SoftDeleteForEveryone(_ context.Context, messageID, requesterID string, isAdmin bool) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch, msgs := range f.byChannel {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].AuthorID != requesterID && !isAdmin {
				return nil, repository.ErrForbidden
			}
			now := time.Now().UTC()
			msgs[i].DeletedForEveryone = true
			msgs[i].DeletedBy = requesterID
			msgs[i].DeletedAt = &now
			f.byChannel[ch] = msgs
			cp := msgs[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeReactions struct {
	msgs *fakeMessages
}

func (f *fakeReactions) Toggle(_ context.Context, messageID, userID, emoji string) (*repository.ToggleResult, error) {
	f.msgs.mu.Lock()
	defer f.msgs.mu.Unlock()
	for _, msgs := range f.msgs.byChannel {
		for i := range msgs {
			if msgs[i].ID != messageID {
				continue
			}
			if msgs[i].DeletedForEveryone {
				return nil, repository.ErrNotFound
			}
			if msgs[i].Reactions == nil {
				msgs[i].Reactions = model.ReactionMap{}
			}
			msgs[i].Reactions.Toggle(userID, emoji)
			return &repository.ToggleResult{
				ChannelID: msgs[i].ChannelID,
				Seq:       msgs[i].Seq,
				Reactions: msgs[i].Reactions.Clone(),
			}, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeCursor struct {
	mu     sync.Mutex
	marks  map[string]int64
	unread map[string]int
}

func newFakeCursor() *fakeCursor {
	return &fakeCursor{marks: make(map[string]int64), unread: make(map[string]int)}
}

func cursorKey(userID, channelID string) string { return userID + "|" + channelID }

func (f *fakeCursor) MarkRead(_ context.Context, userID, channelID string, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := cursorKey(userID, channelID)
	if seq > f.marks[key] {
		f.marks[key] = seq
	}
	return nil
}

func (f *fakeCursor) UnreadCount(_ context.Context, userID, channelID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[cursorKey(userID, channelID)], nil
}

type fakeAttach struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeAttach) Delete(_ context.Context, storePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, storePath)
	return nil
}

type fakePush struct {
	notified chan string
}

func (f *fakePush) Notify(_ context.Context, userID, _, _ string, _ map[string]string) {
	f.notified <- userID
}

// -------- helpers --------

type hubFixture struct {
	hub    *Hub
	dir    *fakeDirectory
	msgs   *fakeMessages
	cursor *fakeCursor
	attach *fakeAttach
	push   *fakePush
}

func newHubFixture() *hubFixture {
	dir := &fakeDirectory{
		channels: map[string]*model.Channel{
			"ch1": {ID: "ch1", Name: "general", OwnerID: "u1"},
		},
		buddies: map[string][]string{"ch1": {"u1", "u2"}},
	}
	msgs := newFakeMessages()
	cursor := newFakeCursor()
	att := &fakeAttach{}
	pushC := &fakePush{notified: make(chan string, 8)}
	hub := NewHub(dir, msgs, &fakeReactions{msgs: msgs}, cursor,
		memory.New(time.Minute), att, 100, pushC, nil)
	return &hubFixture{hub: hub, dir: dir, msgs: msgs, cursor: cursor, attach: att, push: pushC}
}

// addSession регистрирует клиента напрямую, минуя цикл Run.
func (fx *hubFixture) addSession(userID string) *Client {
	c := NewClient(fx.hub, nil, model.Identity{UserID: userID, Name: "name-" + userID})
	fx.hub.mu.Lock()
	if fx.hub.clients[userID] == nil {
		fx.hub.clients[userID] = make(map[*Client]struct{})
	}
	fx.hub.clients[userID][c] = struct{}{}
	fx.hub.total++
	fx.hub.mu.Unlock()
	return c
}

func (fx *hubFixture) seed(channelID, authorID, body string) model.Message {
	m := &model.Message{
		ID:        "m-" + body,
		ChannelID: channelID,
		AuthorID:  authorID,
		Body:      body,
		Reactions: model.ReactionMap{},
		CreatedAt: time.Now().UTC(),
	}
	_ = fx.msgs.Append(context.Background(), m)
	return *m
}

func recvEvent(t *testing.T, c *Client) OutgoingMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("expected an event, got none")
		return OutgoingMessage{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected event %s: %+v", msg.Type, msg.Payload)
	default:
	}
}

func subscribe(t *testing.T, fx *hubFixture, c *Client, channelID string, fromSeq int64) {
	t.Helper()
	fx.hub.handleSubscribe(context.Background(), c, IncomingMessage{
		Type: OpSubscribe, ChannelID: channelID, FromSeq: fromSeq,
	})
}

// -------- tests --------

func TestSubscribeReplaysBacklogThenLive(t *testing.T) {
	fx := newHubFixture()
	fx.seed("ch1", "u1", "one")
	fx.seed("ch1", "u1", "two")
	fx.seed("ch1", "u1", "three")

	c := fx.addSession("u2")
	subscribe(t, fx, c, "ch1", 0)

	for i, want := range []string{"one", "two", "three"} {
		ev := recvEvent(t, c)
		require.Equal(t, EventMessageAppended, ev.Type, "event %d", i)
		m := ev.Payload.(model.Message)
		assert.Equal(t, int64(i+1), m.Seq)
		assert.Equal(t, want, m.Body)
	}
	ev := recvEvent(t, c)
	require.Equal(t, EventSubscribed, ev.Type)
	assert.Equal(t, int64(3), ev.Payload.(SubscribedPayload).LastSeq)

	// Живая доставка после бэклога.
	sender := fx.addSession("u1")
	fx.hub.handleSend(context.Background(), sender, IncomingMessage{
		Type: OpSend, ChannelID: "ch1", Body: "four",
	})
	ev = recvEvent(t, c)
	require.Equal(t, EventMessageAppended, ev.Type)
	assert.Equal(t, int64(4), ev.Payload.(model.Message).Seq)
}

func TestSubscribeResumesFromSeq(t *testing.T) {
	fx := newHubFixture()
	fx.seed("ch1", "u1", "one")
	fx.seed("ch1", "u1", "two")
	fx.seed("ch1", "u1", "three")

	c := fx.addSession("u2")
	subscribe(t, fx, c, "ch1", 2)

	ev := recvEvent(t, c)
	require.Equal(t, EventMessageAppended, ev.Type)
	assert.Equal(t, int64(3), ev.Payload.(model.Message).Seq)
	ev = recvEvent(t, c)
	require.Equal(t, EventSubscribed, ev.Type)
}

func TestSubscribeSkipsHiddenMessages(t *testing.T) {
	fx := newHubFixture()
	m1 := fx.seed("ch1", "u1", "one")
	fx.seed("ch1", "u1", "two")
	require.NoError(t, fx.msgs.HideForSelf(context.Background(), m1.ID, "u2"))

	c := fx.addSession("u2")
	subscribe(t, fx, c, "ch1", 0)

	ev := recvEvent(t, c)
	require.Equal(t, EventMessageAppended, ev.Type)
	assert.Equal(t, "two", ev.Payload.(model.Message).Body)
	ev = recvEvent(t, c)
	require.Equal(t, EventSubscribed, ev.Type)
	// Позиция учитывает и скрытые: lastSeq равен хвосту канала.
	assert.Equal(t, int64(2), ev.Payload.(SubscribedPayload).LastSeq)
}

func TestSubscribeRequiresMembership(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("stranger")
	subscribe(t, fx, c, "ch1", 0)

	ev := recvEvent(t, c)
	assert.Equal(t, EventError, ev.Type)
}

func TestSendRequiresMembership(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("stranger")
	fx.hub.handleSend(context.Background(), c, IncomingMessage{
		Type: OpSend, ChannelID: "ch1", Body: "hi",
	})
	ev := recvEvent(t, c)
	assert.Equal(t, EventError, ev.Type)
	assert.Empty(t, fx.msgs.byChannel["ch1"])
}

func TestFanoutDropsDuplicate(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("u2")
	subscribe(t, fx, c, "ch1", 0)
	require.Equal(t, EventSubscribed, recvEvent(t, c).Type)

	fx.hub.fanoutAppend("ch1", model.Message{ID: "m1", ChannelID: "ch1", Seq: 1, Body: "one"})
	require.Equal(t, EventMessageAppended, recvEvent(t, c).Type)

	// Повторная публикация того же seq не доставляется.
	fx.hub.fanoutAppend("ch1", model.Message{ID: "m1", ChannelID: "ch1", Seq: 1, Body: "one"})
	assertNoEvent(t, c)
}

func TestFanoutGapClosesSubscription(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("u2")
	subscribe(t, fx, c, "ch1", 0)
	require.Equal(t, EventSubscribed, recvEvent(t, c).Type)

	// seq 2 при позиции 0 — дыра; подписка закрывается, молча не доставляем.
	fx.hub.fanoutAppend("ch1", model.Message{ID: "m2", ChannelID: "ch1", Seq: 2, Body: "two"})
	ev := recvEvent(t, c)
	assert.Equal(t, EventError, ev.Type)

	fx.hub.mu.RLock()
	_, stillSubscribed := fx.hub.chanSubs["ch1"][c]
	fx.hub.mu.RUnlock()
	assert.False(t, stillSubscribed)
}

func TestSendAdvancesSenderCursor(t *testing.T) {
	fx := newHubFixture()
	sender := fx.addSession("u1")
	fx.hub.handleSend(context.Background(), sender, IncomingMessage{
		Type: OpSend, ChannelID: "ch1", Body: "hi",
	})
	fx.cursor.mu.Lock()
	defer fx.cursor.mu.Unlock()
	assert.Equal(t, int64(1), fx.cursor.marks[cursorKey("u1", "ch1")])
}

func TestAppendPushesUnreadCountToOnlineBuddies(t *testing.T) {
	fx := newHubFixture()
	fx.cursor.unread[cursorKey("u2", "ch1")] = 5

	reader := fx.addSession("u2")
	subscribe(t, fx, reader, "ch1", 0)
	require.Equal(t, EventSubscribed, recvEvent(t, reader).Type)

	sender := fx.addSession("u1")
	fx.hub.handleSend(context.Background(), sender, IncomingMessage{
		Type: OpSend, ChannelID: "ch1", Body: "hi",
	})

	ev := recvEvent(t, reader)
	require.Equal(t, EventMessageAppended, ev.Type)
	ev = recvEvent(t, reader)
	require.Equal(t, EventUnreadCount, ev.Type)
	assert.Equal(t, 5, ev.Payload.(UnreadCountPayload).Count)
}

func TestSendNotifiesOfflineBuddies(t *testing.T) {
	fx := newHubFixture()
	// u2 не имеет живых сессий — получает пуш.
	sender := fx.addSession("u1")
	fx.hub.handleSend(context.Background(), sender, IncomingMessage{
		Type: OpSend, ChannelID: "ch1", Body: "hi",
	})

	select {
	case uid := <-fx.push.notified:
		assert.Equal(t, "u2", uid)
	case <-time.After(time.Second):
		t.Fatal("expected push notification for offline buddy")
	}
}

func TestToggleReactionBroadcastsFullMap(t *testing.T) {
	fx := newHubFixture()
	m := fx.seed("ch1", "u1", "one")

	a := fx.addSession("u1")
	b := fx.addSession("u2")
	subscribe(t, fx, a, "ch1", 1)
	require.Equal(t, EventSubscribed, recvEvent(t, a).Type)
	subscribe(t, fx, b, "ch1", 1)
	require.Equal(t, EventSubscribed, recvEvent(t, b).Type)

	fx.hub.handleToggleReaction(context.Background(), b, IncomingMessage{
		Type: OpToggleReaction, MessageID: m.ID, Emoji: "👍",
	})

	for _, c := range []*Client{a, b} {
		ev := recvEvent(t, c)
		require.Equal(t, EventReactionChanged, ev.Type)
		p := ev.Payload.(ReactionChangedPayload)
		assert.Equal(t, m.ID, p.MessageID)
		assert.Equal(t, []string{"u2"}, p.Reactions["👍"])
	}
}

func TestToggleReactionOnDeletedMessage(t *testing.T) {
	fx := newHubFixture()
	m := fx.seed("ch1", "u1", "one")
	_, err := fx.msgs.SoftDeleteForEveryone(context.Background(), m.ID, "u1", false)
	require.NoError(t, err)

	c := fx.addSession("u2")
	fx.hub.handleToggleReaction(context.Background(), c, IncomingMessage{
		Type: OpToggleReaction, MessageID: m.ID, Emoji: "👍",
	})
	ev := recvEvent(t, c)
	assert.Equal(t, EventError, ev.Type)
}

func TestHideForMeOnlyNotifiesOwnSessions(t *testing.T) {
	fx := newHubFixture()
	m := fx.seed("ch1", "u1", "one")

	hiderTab1 := fx.addSession("u2")
	hiderTab2 := fx.addSession("u2")
	other := fx.addSession("u1")
	subscribe(t, fx, other, "ch1", 1)
	require.Equal(t, EventSubscribed, recvEvent(t, other).Type)

	fx.hub.handleHideForMe(context.Background(), hiderTab1, IncomingMessage{
		Type: OpHideForMe, MessageID: m.ID,
	})

	for _, c := range []*Client{hiderTab1, hiderTab2} {
		ev := recvEvent(t, c)
		require.Equal(t, EventMessageHidden, ev.Type)
		assert.Equal(t, m.ID, ev.Payload.(MessageHiddenPayload).MessageID)
	}
	assertNoEvent(t, other)
}

func TestDeleteForEveryone(t *testing.T) {
	fx := newHubFixture()
	m := &model.Message{
		ID:        "m-file",
		ChannelID: "ch1",
		AuthorID:  "u1",
		Body:      "with file",
		Attachment: &model.Attachment{
			URL:       "https://files.example/a.png",
			Name:      "a.png",
			StorePath: "uploads/ch1/a.png",
		},
		Reactions: model.ReactionMap{},
	}
	require.NoError(t, fx.msgs.Append(context.Background(), m))

	author := fx.addSession("u1")
	watcher := fx.addSession("u2")
	subscribe(t, fx, watcher, "ch1", 1)
	require.Equal(t, EventSubscribed, recvEvent(t, watcher).Type)

	fx.hub.handleDeleteForEveryone(context.Background(), author, IncomingMessage{
		Type: OpDeleteForEveryone, MessageID: m.ID,
	})

	ev := recvEvent(t, watcher)
	require.Equal(t, EventMessageDeleted, ev.Type)
	p := ev.Payload.(MessageDeletedPayload)
	assert.Equal(t, m.ID, p.MessageID)
	assert.Equal(t, "u1", p.DeletedBy)

	fx.attach.mu.Lock()
	defer fx.attach.mu.Unlock()
	assert.Equal(t, []string{"uploads/ch1/a.png"}, fx.attach.deleted)
}

func TestDeleteForEveryoneForbiddenForStranger(t *testing.T) {
	fx := newHubFixture()
	m := fx.seed("ch1", "u1", "one")

	c := fx.addSession("u2")
	fx.hub.handleDeleteForEveryone(context.Background(), c, IncomingMessage{
		Type: OpDeleteForEveryone, MessageID: m.ID,
	})
	ev := recvEvent(t, c)
	assert.Equal(t, EventError, ev.Type)

	got, err := fx.msgs.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, got.DeletedForEveryone)
}

func TestDeleteAttachmentFailureDoesNotUndelete(t *testing.T) {
	fx := newHubFixture()
	fx.attach.err = assert.AnError
	m := &model.Message{
		ID:         "m-file",
		ChannelID:  "ch1",
		AuthorID:   "u1",
		Attachment: &model.Attachment{URL: "u", Name: "n", StorePath: "uploads/ch1/x"},
		Reactions:  model.ReactionMap{},
	}
	require.NoError(t, fx.msgs.Append(context.Background(), m))

	author := fx.addSession("u1")
	fx.hub.handleDeleteForEveryone(context.Background(), author, IncomingMessage{
		Type: OpDeleteForEveryone, MessageID: m.ID,
	})

	got, err := fx.msgs.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.True(t, got.DeletedForEveryone, "ошибка blob store не откатывает удаление")
}

func TestTypingBroadcastExcludesSender(t *testing.T) {
	fx := newHubFixture()
	a := fx.addSession("u1")
	b := fx.addSession("u2")
	subscribe(t, fx, a, "ch1", 0)
	require.Equal(t, EventSubscribed, recvEvent(t, a).Type)
	subscribe(t, fx, b, "ch1", 0)
	require.Equal(t, EventSubscribed, recvEvent(t, b).Type)

	fx.hub.handleTyping(context.Background(), a, IncomingMessage{Type: OpTyping, ChannelID: "ch1"}, false)

	ev := recvEvent(t, b)
	require.Equal(t, EventTyping, ev.Type)
	p := ev.Payload.(TypingPayload)
	assert.Equal(t, "u1", p.UserID)
	assert.False(t, p.Stopped)
	assertNoEvent(t, a)

	fx.hub.handleTyping(context.Background(), a, IncomingMessage{Type: OpTypingStop, ChannelID: "ch1"}, true)
	ev = recvEvent(t, b)
	require.Equal(t, EventTyping, ev.Type)
	assert.True(t, ev.Payload.(TypingPayload).Stopped)
}

func TestMarkReadPushesUnreadCount(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("u2")
	fx.hub.handleMarkRead(context.Background(), c, IncomingMessage{
		Type: OpMarkRead, ChannelID: "ch1", Seq: 4,
	})

	ev := recvEvent(t, c)
	require.Equal(t, EventUnreadCount, ev.Type)
	assert.Equal(t, 0, ev.Payload.(UnreadCountPayload).Count)

	fx.cursor.mu.Lock()
	defer fx.cursor.mu.Unlock()
	assert.Equal(t, int64(4), fx.cursor.marks[cursorKey("u2", "ch1")])
}

func TestMarkReadIsMonotonic(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("u2")
	ctx := context.Background()
	fx.hub.handleMarkRead(ctx, c, IncomingMessage{Type: OpMarkRead, ChannelID: "ch1", Seq: 9})
	recvEvent(t, c)
	fx.hub.handleMarkRead(ctx, c, IncomingMessage{Type: OpMarkRead, ChannelID: "ch1", Seq: 3})
	recvEvent(t, c)

	fx.cursor.mu.Lock()
	defer fx.cursor.mu.Unlock()
	assert.Equal(t, int64(9), fx.cursor.marks[cursorKey("u2", "ch1")], "курсор назад не двигается")
}

func TestChannelDeletedIsTerminal(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("u2")
	subscribe(t, fx, c, "ch1", 0)
	require.Equal(t, EventSubscribed, recvEvent(t, c).Type)

	fx.hub.ChannelDeleted(context.Background(), "ch1")

	ev := recvEvent(t, c)
	require.Equal(t, EventChannelDeleted, ev.Type)
	assert.Equal(t, "ch1", ev.Payload.(ChannelDeletedPayload).ChannelID)

	// После терминального события подписки больше нет.
	fx.hub.fanoutAppend("ch1", model.Message{ID: "mX", ChannelID: "ch1", Seq: 1})
	assertNoEvent(t, c)
}

// dialTestConn устанавливает настоящее WS-соединение к тестовому серверу:
// Close у клиента требует живого conn.
func dialTestConn(t *testing.T) *websocket.Conn {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSlowSubscriberDroppedWithoutBlockingPublisher(t *testing.T) {
	fx := newHubFixture()
	c := NewClient(fx.hub, dialTestConn(t), model.Identity{UserID: "u2", Name: "name-u2"})
	fx.hub.mu.Lock()
	fx.hub.clients["u2"] = map[*Client]struct{}{c: {}}
	fx.hub.total++
	fx.hub.mu.Unlock()
	subscribe(t, fx, c, "ch1", 0)

	// Забиваем буфер до отказа: пампы не запущены, его никто не вычитывает.
	for len(c.send) < cap(c.send) {
		c.send <- OutgoingMessage{Type: EventTyping}
	}

	published := make(chan struct{})
	go func() {
		fx.hub.fanoutAppend("ch1", model.Message{ID: "m1", ChannelID: "ch1", Seq: 1})
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	select {
	case <-c.done:
	default:
		t.Fatal("slow client was not closed")
	}
}

func TestConcurrentSendsKeepSequenceContiguous(t *testing.T) {
	fx := newHubFixture()
	c := fx.addSession("u2")
	subscribe(t, fx, c, "ch1", 0)
	require.Equal(t, EventSubscribed, recvEvent(t, c).Type)

	sender := fx.addSession("u1")
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			fx.hub.handleSend(context.Background(), sender, IncomingMessage{
				Type: OpSend, ChannelID: "ch1", Body: "x",
			})
		}()
	}
	wg.Wait()

	// Подписчик видит ровно n message_appended с seq 1..n без дыр, в порядке.
	var want int64 = 1
	for seen := 0; seen < n; {
		ev := recvEvent(t, c)
		if ev.Type != EventMessageAppended {
			continue
		}
		m := ev.Payload.(model.Message)
		require.Equal(t, want, m.Seq)
		want++
		seen++
	}
}
