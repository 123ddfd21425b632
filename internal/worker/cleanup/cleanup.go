// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// アクセストークンの期限から保持期間（デフォルト30日）を超過したプロバイダーセッションを削除し、
// 契約期間が終了したサブスクリプションを期限切れに更新する。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSessionRetentionDays はプロバイダーセッションを期限切れ後も保持する日数の既定値。
// GoTrueのリフレッシュトークンで再開できる期間を残す。
const DefaultSessionRetentionDays = 30

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SubscriptionExpirer は終了日を過ぎた契約を期限切れにする。subscription.Serviceが実装する。
type SubscriptionExpirer interface {
	ExpireEnded(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 何度実行しても結果が変わらない冪等な処理として動く。
type CleanupJob struct {
	db                   Executor
	subscriptions        SubscriptionExpirer
	logger               *slog.Logger
	SessionRetentionDays int // 期限切れセッションの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。subscriptionsがnilの場合は契約の更新を行わない。
func NewCleanupJob(db Executor, subscriptions SubscriptionExpirer, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		db:                   db,
		subscriptions:        subscriptions,
		logger:               logger,
		SessionRetentionDays: DefaultSessionRetentionDays,
	}
}

// Run はクリーンアップを1回実行する。
// 片方の処理が失敗しても、もう片方は実行してからエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedSessions, sessErr := j.deleteExpiredSessions(ctx)
	expiredSubs, subErr := j.expireSubscriptions(ctx)

	if err := errors.Join(sessErr, subErr); err != nil {
		return err
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Int64("expired_subscriptions", expiredSubs),
		slog.Int("session_retention_days", j.SessionRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// RunPeriodically はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。
func (j *CleanupJob) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// deleteExpiredSessions は保持期間を超過したプロバイダーセッションを削除する。
func (j *CleanupJob) deleteExpiredSessions(ctx context.Context) (int64, error) {
	interval := fmt.Sprintf("%d days", j.SessionRetentionDays)

	query := `DELETE FROM provider_sessions WHERE expires_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("failed to delete expired provider sessions",
			slog.String("error", err.Error()),
			slog.Int("session_retention_days", j.SessionRetentionDays),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// expireSubscriptions は終了日を過ぎた契約を期限切れにする。
func (j *CleanupJob) expireSubscriptions(ctx context.Context) (int64, error) {
	if j.subscriptions == nil {
		return 0, nil
	}
	n, err := j.subscriptions.ExpireEnded(ctx)
	if err != nil {
		j.logger.Error("failed to expire ended subscriptions", slog.String("error", err.Error()))
		return 0, fmt.Errorf("契約の期限切れ処理に失敗: %w", err)
	}
	return n, nil
}
