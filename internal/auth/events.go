package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType は認証状態変化イベントの種別。
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event は認証状態の変化を表す。
// SIGNED_OUTでSessionIDが空の場合は、そのユーザーの全セッションが対象。
// TOKEN_REFRESHEDではExpiresAtに延長後の有効期限が入る。
type Event struct {
	Type      EventType  `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	At        time.Time  `json:"at"`
}

// Listener はイベントを受け取るコールバック。
type Listener func(Event)

// Publisher はイベントの発行先。
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Subscription は購読のハンドル。Unsubscribeは何度呼んでもよい。
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe は購読を解除する。解除後にリスナーが新たに呼ばれることはない。
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

const subscriberBuffer = 64

type subscriber struct {
	ch   chan Event
	done chan struct{}
	fn   Listener
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.ch:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}

// Broker はプロセス内のイベント配信を行う。
// 購読ごとに専用のgoroutineで順序どおりに配信する。
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

// NewBroker はBrokerを生成する。
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*subscriber)}
}

// Subscribe はリスナーを登録し、解除用のハンドルを返す。
func (b *Broker) Subscribe(fn Listener) *Subscription {
	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
		fn:   fn,
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run()

	return &Subscription{cancel: func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.done)
	}}
}

// Publish は全購読者にイベントを配信する。
// 配信キューが溢れた購読者へのイベントは破棄する。
func (b *Broker) Publish(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("auth event dropped for slow subscriber",
				slog.String("type", string(ev.Type)),
				slog.String("user_id", ev.UserID),
			)
		}
	}
}

// SubscriberCount は現在の購読数を返す。
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// compile-time interface check
var _ Publisher = (*Broker)(nil)
