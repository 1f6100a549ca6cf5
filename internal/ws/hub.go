package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatify/internal/logger"
	"github.com/chatify/internal/model"
	"github.com/chatify/internal/repository"
	"github.com/chatify/internal/storage"
)

// backlogPage — размер страницы при проигрывании бэклога новому подписчику.
const backlogPage = 200

// ChannelDirectory отвечает на вопросы «какой это канал и кто в нём».
type ChannelDirectory interface {
	GetByID(ctx context.Context, id string) (*model.Channel, error)
	IsBuddy(ctx context.Context, channelID, userID string) (bool, error)
	GetBuddyIDs(ctx context.Context, channelID string) ([]string, error)
}

// MessageStore — журнал сообщений канала с номерами seq.
type MessageStore interface {
	Append(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	Backlog(ctx context.Context, channelID string, fromSeq int64, limit int) ([]model.Message, error)
	HiddenSet(ctx context.Context, channelID, userID string) (map[string]struct{}, error)
	HideForSelf(ctx context.Context, messageID, userID string) error
	SoftDeleteForEveryone(ctx context.Context, messageID, requesterID string, isAdmin bool) (*model.Message, error)
}

// ReactionToggler переключает реакцию и возвращает полную обновлённую карту.
type ReactionToggler interface {
	Toggle(ctx context.Context, messageID, userID, emoji string) (*repository.ToggleResult, error)
}

// CursorStore хранит курсоры прочтения и считает непрочитанное.
type CursorStore interface {
	MarkRead(ctx context.Context, userID, channelID string, seq int64) error
	UnreadCount(ctx context.Context, userID, channelID string) (int, error)
}

// AttachmentCleaner удаляет объект вложения. Ошибка логируется, но не
// откатывает удаление сообщения (best effort).
type AttachmentCleaner interface {
	Delete(ctx context.Context, storePath string) error
}

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// subscription — позиция одного клиента в последовательности канала.
// lastSeq мутируется только под замком канала (см. channelLock).
type subscription struct {
	lastSeq int64
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	chanSubs map[string]map[*Client]*subscription
	total    int
	maxConns int

	// chanLocks сериализует путь записи канала: append+рассылка и подписка
	// (бэклог+регистрация) держат один замок, поэтому порядок доставки
	// совпадает с порядком seq и подписчик не теряет событий между
	// чтением бэклога и регистрацией.
	lockMu    sync.Mutex
	chanLocks map[string]*sync.Mutex

	channelRepo ChannelDirectory
	msgRepo     MessageStore
	reactRepo   ReactionToggler
	cursorRepo  CursorStore
	typing      storage.TypingStore
	attachStore AttachmentCleaner
	pushClient  PushNotifier
	isAdmin     func(userID string) bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(
	channelRepo ChannelDirectory,
	msgRepo MessageStore,
	reactRepo ReactionToggler,
	cursorRepo CursorStore,
	typing storage.TypingStore,
	attachStore AttachmentCleaner,
	maxConns int,
	pushClient PushNotifier,
	isAdmin func(userID string) bool,
) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		chanSubs:    make(map[string]map[*Client]*subscription),
		chanLocks:   make(map[string]*sync.Mutex),
		maxConns:    maxConns,
		channelRepo: channelRepo,
		msgRepo:     msgRepo,
		reactRepo:   reactRepo,
		cursorRepo:  cursorRepo,
		typing:      typing,
		attachStore: attachStore,
		pushClient:  pushClient,
		isAdmin:     isAdmin,
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		done:        make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.chanSubs = make(map[string]map[*Client]*subscription)
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) channelLock(channelID string) *sync.Mutex {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()
	l, ok := h.chanLocks[channelID]
	if !ok {
		l = &sync.Mutex{}
		h.chanLocks[channelID] = l
	}
	return l
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.identity.UserID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.identity.UserID]; !ok {
		h.clients[c.identity.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.identity.UserID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.identity.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.identity.UserID)
	}
	subscribed := make([]string, 0, 4)
	for chID, subs := range h.chanSubs {
		if _, ok := subs[c]; ok {
			delete(subs, c)
			subscribed = append(subscribed, chID)
			if len(subs) == 0 {
				delete(h.chanSubs, chID)
			}
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	// Уход сессии снимает её typing-маркеры; для остальных маркер всё равно
	// истёк бы по окну, это лишь ускоряет.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, chID := range subscribed {
		if err := h.typing.Stop(ctx, chID, c.identity.UserID); err != nil {
			logger.Errorf("ws stop typing on disconnect channel=%s user=%s: %v", chID, c.identity.UserID, err)
		}
	}
}

// HandleMessage dispatches incoming WebSocket operations.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case OpSubscribe:
		h.handleSubscribe(ctx, c, msg)
	case OpUnsubscribe:
		h.handleUnsubscribe(ctx, c, msg)
	case OpSend:
		h.handleSend(ctx, c, msg)
	case OpTyping:
		h.handleTyping(ctx, c, msg, false)
	case OpTypingStop:
		h.handleTyping(ctx, c, msg, true)
	case OpMarkRead:
		h.handleMarkRead(ctx, c, msg)
	case OpToggleReaction:
		h.handleToggleReaction(ctx, c, msg)
	case OpHideForMe:
		h.handleHideForMe(ctx, c, msg)
	case OpDeleteForEveryone:
		h.handleDeleteForEveryone(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

// handleSubscribe replays the backlog from msg.FromSeq and switches the
// session to live delivery. Both happen under the channel lock, so no append
// can slip between the last backlog page and the registration.
func (h *Hub) handleSubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSubscribe", time.Now())()
	if msg.ChannelID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "channel_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if _, err := h.channelRepo.GetByID(ctx, msg.ChannelID); err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "channel not found"})
		return
	}
	isBuddy, err := h.channelRepo.IsBuddy(ctx, msg.ChannelID, c.identity.UserID)
	if err != nil {
		logger.Errorf("ws check membership channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
		return
	}
	if !isBuddy {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not a member"})
		return
	}

	lock := h.channelLock(msg.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	hidden, err := h.msgRepo.HiddenSet(ctx, msg.ChannelID, c.identity.UserID)
	if err != nil {
		logger.Errorf("ws load hidden set channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
		return
	}

	lastSeq := msg.FromSeq
	for {
		page, err := h.msgRepo.Backlog(ctx, msg.ChannelID, lastSeq, backlogPage)
		if err != nil {
			logger.Errorf("ws backlog channel=%s from=%d: %v", msg.ChannelID, lastSeq, err)
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
			return
		}
		for _, m := range page {
			lastSeq = m.Seq
			if _, hid := hidden[m.ID]; hid {
				continue
			}
			h.sendToClient(c, OutgoingMessage{Type: EventMessageAppended, Payload: m.ToView()})
		}
		if len(page) < backlogPage {
			break
		}
	}

	h.mu.Lock()
	subs, ok := h.chanSubs[msg.ChannelID]
	if !ok {
		subs = make(map[*Client]*subscription)
		h.chanSubs[msg.ChannelID] = subs
	}
	subs[c] = &subscription{lastSeq: lastSeq}
	h.mu.Unlock()

	h.sendToClient(c, OutgoingMessage{Type: EventSubscribed, Payload: SubscribedPayload{
		ChannelID: msg.ChannelID,
		LastSeq:   lastSeq,
	}})
}

func (h *Hub) handleUnsubscribe(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChannelID == "" {
		return
	}
	h.mu.Lock()
	if subs, ok := h.chanSubs[msg.ChannelID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.chanSubs, msg.ChannelID)
		}
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.typing.Stop(ctx, msg.ChannelID, c.identity.UserID); err != nil {
		logger.Errorf("ws stop typing on unsubscribe channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	if msg.ChannelID == "" || (msg.Body == "" && msg.Attachment == nil) {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "channel_id and body required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	isBuddy, err := h.channelRepo.IsBuddy(ctx, msg.ChannelID, c.identity.UserID)
	if err != nil {
		logger.Errorf("ws check membership channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "internal error"})
		return
	}
	if !isBuddy {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not a member"})
		return
	}

	// Нормализация имени файла: "+" часто приходит вместо пробела (URL-кодирование).
	if msg.Attachment != nil {
		msg.Attachment.Name = strings.TrimSpace(strings.ReplaceAll(msg.Attachment.Name, "+", " "))
	}
	m := &model.Message{
		ID:           uuid.New().String(),
		ChannelID:    msg.ChannelID,
		AuthorID:     c.identity.UserID,
		AuthorName:   c.identity.Name,
		AuthorAvatar: c.identity.AvatarURL,
		Body:         msg.Body,
		Attachment:   msg.Attachment,
		Reactions:    model.ReactionMap{},
		CreatedAt:    time.Now().UTC(),
	}

	lock := h.channelLock(msg.ChannelID)
	lock.Lock()
	if err := h.msgRepo.Append(ctx, m); err != nil {
		lock.Unlock()
		logger.Errorf("ws append channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to save message"})
		return
	}
	h.fanoutAppend(msg.ChannelID, *m)
	lock.Unlock()

	// Отправка — это и прочтение: курсор автора двигается на его же сообщение.
	if err := h.cursorRepo.MarkRead(ctx, c.identity.UserID, msg.ChannelID, m.Seq); err != nil {
		logger.Errorf("ws advance sender cursor channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
	}
	if err := h.typing.Stop(ctx, msg.ChannelID, c.identity.UserID); err != nil {
		logger.Errorf("ws stop typing after send channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
	}

	buddyIDs, err := h.channelRepo.GetBuddyIDs(ctx, msg.ChannelID)
	if err != nil {
		logger.Errorf("ws get buddies channel=%s: %v", msg.ChannelID, err)
		return
	}
	h.pushUnreadCounts(ctx, msg.ChannelID, buddyIDs)
	h.notifyOffline(c, m, buddyIDs)
}

// fanoutAppend delivers an appended message to channel subscribers, tracking
// each subscription's position. Caller must hold the channel lock.
func (h *Hub) fanoutAppend(channelID string, m model.Message) {
	h.mu.RLock()
	targets := make(map[*Client]*subscription, len(h.chanSubs[channelID]))
	for c, sub := range h.chanSubs[channelID] {
		targets[c] = sub
	}
	h.mu.RUnlock()

	view := m.ToView()
	var broken []*Client
	for c, sub := range targets {
		if m.Seq <= sub.lastSeq {
			// Duplicate delivery: уже видели (повторная публикация после ретрая).
			continue
		}
		if m.Seq != sub.lastSeq+1 {
			// Дыра в последовательности — нарушение целостности. Не доставляем
			// молча вне порядка: подписка закрывается, клиент переподписывается
			// с последней известной позиции.
			logger.Errorf("ws sequence gap channel=%s user=%s have=%d got=%d",
				channelID, c.identity.UserID, sub.lastSeq, m.Seq)
			broken = append(broken, c)
			continue
		}
		sub.lastSeq = m.Seq
		h.sendToClient(c, OutgoingMessage{Type: EventMessageAppended, Payload: view})
	}

	if len(broken) > 0 {
		h.mu.Lock()
		subs := h.chanSubs[channelID]
		for _, c := range broken {
			delete(subs, c)
		}
		if len(subs) == 0 {
			delete(h.chanSubs, channelID)
		}
		h.mu.Unlock()
		for _, c := range broken {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "subscription out of sync, resubscribe"})
		}
	}
}

// fanoutEvent delivers a non-append event (reactions, deletions, typing) to
// channel subscribers. These do not advance subscription positions.
func (h *Hub) fanoutEvent(channelID string, out OutgoingMessage, excludeUser string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.chanSubs[channelID]))
	for c := range h.chanSubs[channelID] {
		if excludeUser != "" && c.identity.UserID == excludeUser {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) handleToggleReaction(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleToggleReaction", time.Now())()
	if msg.MessageID == "" || msg.Emoji == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	original, err := h.msgRepo.GetByID(ctx, msg.MessageID)
	if err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message not found"})
		return
	}
	isBuddy, err := h.channelRepo.IsBuddy(ctx, original.ChannelID, c.identity.UserID)
	if err != nil || !isBuddy {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not a member"})
		return
	}

	res, err := h.reactRepo.Toggle(ctx, msg.MessageID, c.identity.UserID, msg.Emoji)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message not found"})
			return
		}
		logger.Errorf("ws toggle reaction message=%s user=%s: %v", msg.MessageID, c.identity.UserID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to toggle reaction"})
		return
	}

	out := OutgoingMessage{Type: EventReactionChanged, Payload: ReactionChangedPayload{
		ChannelID: res.ChannelID,
		MessageID: msg.MessageID,
		Seq:       res.Seq,
		Reactions: res.Reactions,
	}}
	lock := h.channelLock(res.ChannelID)
	lock.Lock()
	h.fanoutEvent(res.ChannelID, out, "")
	lock.Unlock()
}

func (h *Hub) handleHideForMe(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.msgRepo.HideForSelf(ctx, msg.MessageID, c.identity.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message not found"})
			return
		}
		logger.Errorf("ws hide message=%s user=%s: %v", msg.MessageID, c.identity.UserID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to hide"})
		return
	}

	// Только сессиям скрывшего: для остальных ничего не изменилось.
	h.sendToUser(c.identity.UserID, OutgoingMessage{Type: EventMessageHidden, Payload: MessageHiddenPayload{
		MessageID: msg.MessageID,
	}})
}

func (h *Hub) handleDeleteForEveryone(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleDeleteForEveryone", time.Now())()
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	deleted, err := h.msgRepo.SoftDeleteForEveryone(ctx, msg.MessageID, c.identity.UserID, h.isAdmin(c.identity.UserID))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message not found"})
		case errors.Is(err, repository.ErrForbidden):
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "can only delete own messages"})
		default:
			logger.Errorf("ws delete message=%s user=%s: %v", msg.MessageID, c.identity.UserID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to delete"})
		}
		return
	}

	out := OutgoingMessage{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
		ChannelID: deleted.ChannelID,
		MessageID: deleted.ID,
		Seq:       deleted.Seq,
		DeletedBy: c.identity.UserID,
	}}
	lock := h.channelLock(deleted.ChannelID)
	lock.Lock()
	h.fanoutEvent(deleted.ChannelID, out, "")
	lock.Unlock()

	// Объект вложения убирается после записи: сообщение уже помечено
	// удалённым, осиротевший объект хуже оборванной записи.
	if deleted.Attachment != nil && deleted.Attachment.StorePath != "" && h.attachStore != nil {
		if err := h.attachStore.Delete(ctx, deleted.Attachment.StorePath); err != nil {
			logger.Errorf("ws delete attachment message=%s path=%s: %v", deleted.ID, deleted.Attachment.StorePath, err)
		}
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage, stopped bool) {
	if msg.ChannelID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var err error
	if stopped {
		err = h.typing.Stop(ctx, msg.ChannelID, c.identity.UserID)
	} else {
		err = h.typing.Heartbeat(ctx, msg.ChannelID, c.identity.UserID, c.identity.Name)
	}
	if err != nil {
		logger.Errorf("ws typing channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
		return
	}

	out := OutgoingMessage{Type: EventTyping, Payload: TypingPayload{
		ChannelID: msg.ChannelID,
		UserID:    c.identity.UserID,
		Name:      c.identity.Name,
		Stopped:   stopped,
	}}
	h.fanoutEvent(msg.ChannelID, out, c.identity.UserID)
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.ChannelID == "" || msg.Seq <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.cursorRepo.MarkRead(ctx, c.identity.UserID, msg.ChannelID, msg.Seq); err != nil {
		logger.Errorf("ws mark read channel=%s user=%s: %v", msg.ChannelID, c.identity.UserID, err)
		return
	}
	h.pushUnreadCounts(ctx, msg.ChannelID, []string{c.identity.UserID})
}

// pushUnreadCounts пересчитывает и рассылает бейдж непрочитанного тем из
// userIDs, у кого есть живые сессии.
func (h *Hub) pushUnreadCounts(ctx context.Context, channelID string, userIDs []string) {
	for _, uid := range userIDs {
		h.mu.RLock()
		_, online := h.clients[uid]
		h.mu.RUnlock()
		if !online {
			continue
		}
		count, err := h.cursorRepo.UnreadCount(ctx, uid, channelID)
		if err != nil {
			logger.Errorf("ws unread count channel=%s user=%s: %v", channelID, uid, err)
			continue
		}
		h.sendToUser(uid, OutgoingMessage{Type: EventUnreadCount, Payload: UnreadCountPayload{
			ChannelID: channelID,
			Count:     count,
		}})
	}
}

// notifyOffline отправляет пуш участникам без живых сессий (кроме автора).
func (h *Hub) notifyOffline(c *Client, m *model.Message, buddyIDs []string) {
	if h.pushClient == nil {
		return
	}
	title := c.identity.Name
	if title == "" {
		title = "New message"
	}
	body := m.Body
	if body == "" && m.Attachment != nil {
		body = m.Attachment.Name
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	data := map[string]string{"channel_id": m.ChannelID, "message_id": m.ID}
	for _, uid := range buddyIDs {
		if uid == c.identity.UserID {
			continue
		}
		h.mu.RLock()
		_, online := h.clients[uid]
		h.mu.RUnlock()
		if online {
			continue
		}
		uid := uid
		go h.pushClient.Notify(context.Background(), uid, title, body, data)
	}
}

// ChannelDeleted рассылает терминальное событие подписки и снимает все
// подписки канала. Вызывается REST-обработчиком после удаления канала.
func (h *Hub) ChannelDeleted(ctx context.Context, channelID string) {
	out := OutgoingMessage{Type: EventChannelDeleted, Payload: ChannelDeletedPayload{ChannelID: channelID}}

	lock := h.channelLock(channelID)
	lock.Lock()
	h.fanoutEvent(channelID, out, "")
	h.mu.Lock()
	delete(h.chanSubs, channelID)
	h.mu.Unlock()
	lock.Unlock()

	h.lockMu.Lock()
	delete(h.chanLocks, channelID)
	h.lockMu.Unlock()

	if err := h.typing.ClearChannel(ctx, channelID); err != nil {
		logger.Errorf("ws clear typing channel=%s: %v", channelID, err)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.identity.UserID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
