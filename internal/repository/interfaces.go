// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/virtucalls/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key")

// CredentialRepository はローカルIDプロバイダーのログイン情報の永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレスでログイン情報を検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)
	// FindByID は指定IDのログイン情報を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Credential, error)
	// Create はログイン情報を作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, cred *model.Credential) error
}

// ProviderSessionRepository はクライアントごとのIDプロバイダーセッションの永続化インターフェース。
type ProviderSessionRepository interface {
	// Upsert はクライアントのセッションを作成または置き換える。
	Upsert(ctx context.Context, session *model.ProviderSession) error
	// FindByClientID はクライアントのセッションを取得する。期限切れでも返す。
	// 見つからない場合はnilを返す。
	FindByClientID(ctx context.Context, clientID string) (*model.ProviderSession, error)
	// DeleteByClientID はクライアントのセッションを削除する。
	DeleteByClientID(ctx context.Context, clientID string) error
}

// AccountSettingsRepository はアカウント設定の永続化インターフェース。
type AccountSettingsRepository interface {
	// FindByUserID はユーザーのアカウント設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.AccountSettings, error)
	// FindBySubdomain はサブドメインでアカウント設定を検索する。見つからない場合はnilを返す。
	FindBySubdomain(ctx context.Context, subdomain string) (*model.AccountSettings, error)
	// Create はアカウント設定を作成する。サブドメインかユーザーが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, settings *model.AccountSettings) error
	// Update はアカウント設定を更新する。サブドメインが重複する場合はErrDuplicateを返す。
	Update(ctx context.Context, settings *model.AccountSettings) error
}

// RoomSettingsRepository はルーム設定の永続化インターフェース。
type RoomSettingsRepository interface {
	// FindByUserID はユーザーのルーム設定を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.RoomSettings, error)
	// Create はルーム設定を作成する。既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, settings *model.RoomSettings) error
	// Update はルーム設定を更新する。
	Update(ctx context.Context, settings *model.RoomSettings) error
}

// PricingPlanRepository は料金プランの参照インターフェース。
type PricingPlanRepository interface {
	// List は表示順に全プランを返す。
	List(ctx context.Context) ([]model.PricingPlan, error)
	// FindByID は指定IDのプランを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PricingPlan, error)
}

// SubscriptionRepository はサブスクリプションの永続化インターフェース。
type SubscriptionRepository interface {
	// FindActiveByUserID はユーザーの有効なサブスクリプションを取得する。見つからない場合はnilを返す。
	FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error)
	// ListByUserID はユーザーのサブスクリプション履歴を新しい順に返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Subscription, error)
	// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
	// CreateWithTransaction は既存の有効な契約をキャンセルし、新しい契約と決済記録を同一トランザクションで作成する。
	CreateWithTransaction(ctx context.Context, sub *model.Subscription, txn *model.Transaction) error
	// UpdateStatus は契約状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.SubscriptionStatus) error
	// UpdateAutoRenew は自動更新フラグを更新する。
	UpdateAutoRenew(ctx context.Context, id string, autoRenew bool) error
	// ExpireEnded は終了日を過ぎた有効な契約をexpiredにし、更新件数を返す。
	ExpireEnded(ctx context.Context, now time.Time) (int64, error)
}

// TransactionRepository は決済履歴の永続化インターフェース。
type TransactionRepository interface {
	// ListByUserID はユーザーの決済履歴を新しい順に返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Transaction, error)
	// Create は決済記録を作成する。
	Create(ctx context.Context, txn *model.Transaction) error
}
