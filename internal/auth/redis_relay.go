package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// relayInitialBackoff は再接続の初回待ち時間。
	relayInitialBackoff = time.Second
	// relayMaxBackoff は再接続の最大待ち時間。
	relayMaxBackoff = 30 * time.Second
)

// DefaultEventChannel はインスタンス間でイベントを中継するRedisチャネル名。
const DefaultEventChannel = "creatorlink:auth_events"

// RelayClient はRedisRelayが使用するRedisコマンドのサブセット。
// *redis.Client がこれを満たす。
type RelayClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// relayMessage はチャネルに流すメッセージ。Originは送信元インスタンスのID。
type relayMessage struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay は認証イベントをRedis Pub/Sub経由で全インスタンスに中継する。
// 自インスタンスへは常に直接配信し、Redisから戻ってきた自分のイベントは捨てる。
type RedisRelay struct {
	client  RelayClient
	channel string
	origin  string
	local   *Broker
}

// NewRedisRelay はRedisRelayを生成する。
func NewRedisRelay(client RelayClient, local *Broker) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: DefaultEventChannel,
		origin:  uuid.NewString(),
		local:   local,
	}
}

// Publish はイベントをローカルに配信し、他インスタンス向けにRedisへ送る。
// Runが購読していない間もローカルの購読者には必ず届く。
func (r *RedisRelay) Publish(ctx context.Context, ev Event) {
	r.local.Publish(ctx, ev)

	raw, err := json.Marshal(relayMessage{Origin: r.origin, Event: ev})
	if err != nil {
		slog.Error("failed to encode auth event", slog.String("error", err.Error()))
		return
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		slog.Warn("auth event relay failed, delivered locally only",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// Run はRedisのチャネルを購読し、受信したイベントをローカルのBrokerへ流す。
// ctxがキャンセルされるまでブロックする。
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	slog.Info("auth event relay started", slog.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("auth event relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

// RunWithRetry はRunが失敗または切断で戻るたびに指数バックオフで再購読する。
// ctxがキャンセルされるまでブロックする。
func (r *RedisRelay) RunWithRetry(ctx context.Context) {
	failures := 0
	for {
		start := time.Now()
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		// 一定時間購読できていれば失敗回数をリセットする
		if time.Since(start) > relayMaxBackoff {
			failures = 0
		}

		delay := relayBackoff(failures)
		attrs := []any{slog.Duration("retry_in", delay), slog.Int("failures", failures+1)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.Warn("auth event relay disconnected", attrs...)
		failures++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// relayBackoff は連続失敗回数から再接続までの待ち時間を計算する。
// 初回1秒、2倍ずつ増加、最大30秒。
func relayBackoff(failures int) time.Duration {
	delay := relayInitialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= relayMaxBackoff {
			return relayMaxBackoff
		}
	}
	return delay
}

// deliver は受信したメッセージを他インスタンス発のものに限りローカルへ流す。
func (r *RedisRelay) deliver(ctx context.Context, payload string) {
	msg, err := decodeMessage(payload)
	if err != nil {
		slog.Warn("invalid auth event payload", slog.String("error", err.Error()))
		return
	}
	if msg.Origin == r.origin {
		return
	}
	r.local.Publish(ctx, msg.Event)
}

func decodeMessage(payload string) (relayMessage, error) {
	var msg relayMessage
	err := json.Unmarshal([]byte(payload), &msg)
	return msg, err
}

// compile-time interface check
var (
	_ Publisher   = (*RedisRelay)(nil)
	_ RelayClient = (*redis.Client)(nil)
)
