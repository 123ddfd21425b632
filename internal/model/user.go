// Package model はドメインモデルを定義する。
package model

import "time"

// User はセッション内で保持する認証済みユーザーを表す。
// IDプロバイダーのセッションから毎回導出され、UpdateUserによる変更はセッション内に閉じる。
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	IsSubscribed bool   `json:"isSubscribed"`
	Subdomain    string `json:"subdomain,omitempty"`
	Token        string `json:"token,omitempty"`
}

// DefaultUserName は表示名が未設定のときに使う名前。
const DefaultUserName = "User"

// Clone はUserのコピーを返す。nilの場合はnilを返す。
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Equal は2つのUserが同じ値を持つかを判定する。
func (u *User) Equal(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	return *u == *other
}

// UserPatch はUserの浅いマージ用の差分。nilのフィールドは変更しない。
type UserPatch struct {
	Name         *string `json:"name,omitempty"`
	Email        *string `json:"email,omitempty"`
	IsSubscribed *bool   `json:"isSubscribed,omitempty"`
	Subdomain    *string `json:"subdomain,omitempty"`
}

// Merge はpatchを適用した新しいUserを返す。元のUserは変更しない。
func (u *User) Merge(patch UserPatch) *User {
	merged := u.Clone()
	if merged == nil {
		return nil
	}
	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.Email != nil {
		merged.Email = *patch.Email
	}
	if patch.IsSubscribed != nil {
		merged.IsSubscribed = *patch.IsSubscribed
	}
	if patch.Subdomain != nil {
		merged.Subdomain = *patch.Subdomain
	}
	return merged
}

// Credential はローカルIDプロバイダーが保持するログイン情報を表す。
type Credential struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
