// Package identity は外部IDプロバイダーとの統合点を提供する。
//
// Gatewayはサインイン・サインアップ・サインアウトを正規化して呼び出すだけで、
// セッションストアには書き込まない。状態の反映はリコンサイラーが
// Subscribeの通知とGetSessionの結果から行う。
package identity

import (
	"context"

	"github.com/hitoshi/virtucalls/internal/model"
)

// Listener は認証状態変化の通知を受け取るコールバック。
type Listener func(event model.AuthEvent)

// Unsubscribe はSubscribeで登録したリスナーを解除する。複数回呼んでも安全であること。
type Unsubscribe func()

// Provider はIDプロバイダーの境界。すべての操作はクライアントIDをキーにする。
type Provider interface {
	// SignIn はメールアドレスとパスワードでサインインし、セッションを返す。
	SignIn(ctx context.Context, clientID, email, password string) (*model.ProviderSession, error)
	// SignUp はユーザーを登録する。メール確認が必要な構成ではセッションはnilになる。
	SignUp(ctx context.Context, clientID, email, password string, metadata map[string]any) (*model.ProviderUser, *model.ProviderSession, error)
	// SignOut はクライアントのセッションを破棄する。
	SignOut(ctx context.Context, clientID string) error
	// GetSession は現在のセッションを返す。セッションがない場合はnilを返す。
	GetSession(ctx context.Context, clientID string) (*model.ProviderSession, error)
	// Subscribe はクライアントの認証状態変化を購読する。
	Subscribe(ctx context.Context, clientID string, fn Listener) (Unsubscribe, error)
}

// Provisioner はサインアップ直後の補助レコード（アカウント設定・ルーム設定）を作成する。
// 冪等であること。失敗時は*model.ProvisioningErrorを返す。
type Provisioner interface {
	Provision(ctx context.Context, userID, name, email string) error
}
