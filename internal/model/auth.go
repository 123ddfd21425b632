package model

import "time"

// ProviderUser はIDプロバイダーが発行したユーザー情報。
type ProviderUser struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MetadataString はメタデータから文字列値を取り出す。存在しない場合は空文字を返す。
func (u ProviderUser) MetadataString(key string) string {
	if u.Metadata == nil {
		return ""
	}
	v, _ := u.Metadata[key].(string)
	return v
}

// ProviderSession はクライアントごとのIDプロバイダーセッションを表す。
// 永続化の唯一の所有者で、アクセストークンもここから伝播する。
type ProviderSession struct {
	ClientID     string       `json:"client_id"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         ProviderUser `json:"user"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Expired はセッションが指定時刻において期限切れかを判定する。
func (s *ProviderSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// AuthEventKind は認証状態変化イベントの種別。
type AuthEventKind string

const (
	AuthEventSignedIn       AuthEventKind = "SIGNED_IN"
	AuthEventSignedOut      AuthEventKind = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthEventKind = "USER_UPDATED"
)

// AuthEvent はクライアント単位で配信される認証状態変化の通知。
// SIGNED_OUTではSessionはnilになる。
type AuthEvent struct {
	Kind     AuthEventKind    `json:"kind"`
	ClientID string           `json:"client_id"`
	Session  *ProviderSession `json:"session,omitempty"`
}

// CarriesSession はイベントがユーザーを確立するセッションを持つかを判定する。
func (e AuthEvent) CarriesSession() bool {
	switch e.Kind {
	case AuthEventSignedIn, AuthEventTokenRefreshed, AuthEventUserUpdated:
		return e.Session != nil
	default:
		return false
	}
}
