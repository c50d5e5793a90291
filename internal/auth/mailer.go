package auth

import (
	"context"
	"log/slog"
)

// Mailer は確認メールの送信先インターフェース。
type Mailer interface {
	SendConfirmation(ctx context.Context, email, link string) error
}

// LogMailer は確認リンクを構造化ログに出力するだけのMailer。
// 開発環境とメール配信基盤を持たない環境で使用する。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendConfirmation は確認リンクをログに記録する。
func (m *LogMailer) SendConfirmation(ctx context.Context, email, link string) error {
	m.logger.InfoContext(ctx, "confirmation email",
		slog.String("email", email),
		slog.String("link", link),
	)
	return nil
}

// compile-time interface check
var _ Mailer = (*LogMailer)(nil)
