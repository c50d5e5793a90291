// Package cleanup は期限切れセッションと確認期限切れユーザーの定期削除ジョブを提供する。
// どちらの削除も冪等で、複数のワーカーが同時に実行しても結果は変わらない。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/creatorlink/internal/metrics"
)

// DefaultConfirmTTL はメール未確認ユーザーを保持する既定の期間。
const DefaultConfirmTTL = 24 * time.Hour

// SessionPurger は期限切れセッションを削除する。
// repository.SessionRepositoryがこれを満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// UnconfirmedUserPurger はメール確認が済んでいないユーザーを削除する。
// repository.UserRepositoryがこれを満たす。
type UnconfirmedUserPurger interface {
	DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Result は1回の実行で削除した件数。
type Result struct {
	Sessions int64
	Users    int64
}

// CleanupJob は認証データの定期削除ジョブ。
type CleanupJob struct {
	sessions SessionPurger
	users    UnconfirmedUserPurger
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time

	// ConfirmTTL を過ぎても確認されないユーザーを削除する。0以下なら削除しない。
	ConfirmTTL time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。usersとcollectorはnil可。
func NewCleanupJob(sessions SessionPurger, users UnconfirmedUserPurger, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:   sessions,
		users:      users,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
		ConfirmTTL: DefaultConfirmTTL,
	}
}

// Run は期限切れセッションと確認期限切れユーザーを1回削除する。
// 片方が失敗してももう片方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	var errs []error

	n, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("セッションの削除に失敗: %w", err))
	} else {
		res.Sessions = n
		j.metrics.RecordSessionsCleaned(n)
	}

	if j.users != nil && j.ConfirmTTL > 0 {
		before := j.now().Add(-j.ConfirmTTL)
		n, err := j.users.DeleteUnconfirmedBefore(ctx, before)
		if err != nil {
			j.logger.Error("未確認ユーザーの削除に失敗しました",
				slog.String("error", err.Error()),
				slog.Time("before", before),
			)
			errs = append(errs, fmt.Errorf("未確認ユーザーの削除に失敗: %w", err))
		} else {
			res.Users = n
		}
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", res.Sessions),
		slog.Int64("deleted_users", res.Users),
		slog.Duration("confirm_ttl", j.ConfirmTTL),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// Start は起動直後に1回実行し、以後interval間隔で実行する。
// コンテキストがキャンセルされるまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
