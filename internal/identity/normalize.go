package identity

import (
	"strings"

	"github.com/hitoshi/virtucalls/internal/model"
)

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SanitizeName は表示名をトリムし、山括弧を除去する。
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	return strings.NewReplacer("<", "", ">", "").Replace(name)
}

// SubdomainFromEmail はメールアドレスのローカル部を既定のサブドメインとして返す。
func SubdomainFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// NormalizeUser はプロバイダーのセッションからアプリケーションのUserを組み立てる。
// IsSubscribedは常にfalseで、購読状態の反映は呼び出し側のルックアップで行う。
func NormalizeUser(sess *model.ProviderSession) *model.User {
	if sess == nil {
		return nil
	}
	u := normalizeProviderUser(sess.User)
	u.Token = sess.AccessToken
	return u
}

func normalizeProviderUser(pu model.ProviderUser) *model.User {
	name := pu.MetadataString("name")
	if name == "" {
		name = model.DefaultUserName
	}
	return &model.User{
		ID:           pu.ID,
		Name:         name,
		Email:        pu.Email,
		IsSubscribed: false,
		Subdomain:    SubdomainFromEmail(pu.Email),
	}
}
