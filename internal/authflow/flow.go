// Package authflow はログイン・サインアップ・ログアウト画面の処理をまとめる。
//
// Gatewayの呼び出しはセッションストアに書き込まない。成功後はリコンサイラーが
// 認証イベントを反映するまで一定時間待ち、次のガード付き遷移が新しい状態を見られるようにする。
package authflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

// DefaultWaitTimeout はセッション反映を待つ時間の既定値。
const DefaultWaitTimeout = 3 * time.Second

// Gateway はIDプロバイダーへの操作。identity.Gatewayが実装する。
type Gateway interface {
	Login(ctx context.Context, clientID, email, password string) (*model.User, error)
	Signup(ctx context.Context, clientID, name, email, password string) (*model.User, error)
	Logout(ctx context.Context, clientID string) error
	RetryProvisioning(ctx context.Context, userID, name, email string) error
}

// Sessions はクライアントごとのセッションストアへのアクセス。reconciler.Poolが実装する。
type Sessions interface {
	Acquire(ctx context.Context, clientID string) (*session.Store, error)
	BeginInteraction(clientID string) func(err error)
	UpdateUser(ctx context.Context, clientID string, patch model.UserPatch) (*model.User, bool)
}

// SignupResult はサインアップの結果。
type SignupResult struct {
	User *model.User
	// ConfirmationRequired はプロバイダーがメール確認を要求し、セッションが発行されなかったことを表す。
	ConfirmationRequired bool
}

// Flow は認証画面の処理を提供する。
type Flow struct {
	gateway     Gateway
	sessions    Sessions
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewFlow はFlowを生成する。waitTimeoutが0以下の場合は既定値を使う。
func NewFlow(gateway Gateway, sessions Sessions, waitTimeout time.Duration, logger *slog.Logger) *Flow {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		gateway:     gateway,
		sessions:    sessions,
		waitTimeout: waitTimeout,
		logger:      logger,
	}
}

// Session はクライアントの現在のセッション状態を返す。未マウントの場合はマウントする。
func (f *Flow) Session(ctx context.Context, clientID string) (session.State, error) {
	store, err := f.sessions.Acquire(ctx, clientID)
	if err != nil {
		return session.State{}, err
	}
	return store.Snapshot(), nil
}

// Login はサインインし、リコンサイラーがユーザーを反映した後の状態のユーザーを返す。
// プロバイダーが拒否した場合、セッションストアのユーザーとロード中フラグは呼び出し前の値のまま残る。
func (f *Flow) Login(ctx context.Context, clientID, email, password string) (*model.User, error) {
	// 1. 認証イベントを取りこぼさないよう、先にクライアントをマウントする
	store, err := f.sessions.Acquire(ctx, clientID)
	if err != nil {
		return nil, err
	}

	// 2. プロバイダーでサインイン
	done := f.sessions.BeginInteraction(clientID)
	user, err := f.gateway.Login(ctx, clientID, email, password)
	if err != nil {
		done(err)
		return nil, err
	}

	// 3. セッションの反映を待つ
	established, err := f.awaitUser(ctx, store, user.ID)
	done(err)
	if err != nil {
		f.logger.Warn("signed in but session was not established in time",
			slog.String("client_id", clientID),
			slog.String("user_id", user.ID),
		)
		return nil, err
	}
	return established, nil
}

// Signup はユーザーを登録する。
// 補助レコードの初期化に失敗した場合でもセッションの反映を待ち、結果とともに*model.ProvisioningErrorを返す。
func (f *Flow) Signup(ctx context.Context, clientID, name, email, password string) (*SignupResult, error) {
	store, err := f.sessions.Acquire(ctx, clientID)
	if err != nil {
		return nil, err
	}

	done := f.sessions.BeginInteraction(clientID)
	user, err := f.gateway.Signup(ctx, clientID, name, email, password)

	var provErr *model.ProvisioningError
	if err != nil && !errors.As(err, &provErr) {
		done(err)
		return nil, err
	}

	// セッションが発行されていなければメール確認待ち
	if user.Token == "" {
		done(nil)
		return &SignupResult{User: user, ConfirmationRequired: true}, err
	}

	established, waitErr := f.awaitUser(ctx, store, user.ID)
	done(waitErr)
	if waitErr != nil {
		return nil, waitErr
	}
	if provErr != nil {
		return &SignupResult{User: established}, provErr
	}
	return &SignupResult{User: established}, nil
}

// Logout はサインアウトし、リコンサイラーがユーザーを削除するまで待つ。
func (f *Flow) Logout(ctx context.Context, clientID string) error {
	store, err := f.sessions.Acquire(ctx, clientID)
	if err != nil {
		return err
	}

	done := f.sessions.BeginInteraction(clientID)
	if err := f.gateway.Logout(ctx, clientID); err != nil {
		done(err)
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.waitTimeout)
	defer cancel()
	if _, err := store.Wait(waitCtx, func(st session.State) bool { return st.User == nil }); err != nil {
		// プロバイダー側のセッションは破棄済みのため失敗にはしない
		f.logger.Warn("signed out but session store still holds a user",
			slog.String("client_id", clientID),
		)
	}
	done(nil)
	return nil
}

// UpdateUser は現在のユーザーにpatchを浅くマージする。変更はセッション内に閉じる。
func (f *Flow) UpdateUser(ctx context.Context, clientID string, patch model.UserPatch) (*model.User, error) {
	user, ok := f.sessions.UpdateUser(ctx, clientID, patch)
	if !ok {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// RetryProvisioning はサインアップ時に失敗した補助レコードの初期化を再試行する。
func (f *Flow) RetryProvisioning(ctx context.Context, user *model.User) error {
	return f.gateway.RetryProvisioning(ctx, user.ID, user.Name, user.Email)
}

// awaitUser はストアにuserIDのユーザーが設定されるまで待つ。
func (f *Flow) awaitUser(ctx context.Context, store *session.Store, userID string) (*model.User, error) {
	waitCtx, cancel := context.WithTimeout(ctx, f.waitTimeout)
	defer cancel()

	st, err := store.Wait(waitCtx, func(st session.State) bool {
		return st.User != nil && st.User.ID == userID
	})
	if err != nil {
		return nil, model.NewSessionNotEstablishedError()
	}
	return st.User, nil
}
