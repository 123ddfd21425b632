package model

import "time"

// BackgroundType はルーム背景の種類。
type BackgroundType string

const (
	BackgroundColor BackgroundType = "color"
	BackgroundImage BackgroundType = "image"
)

// RoomTheme はルームのテーマ。
type RoomTheme string

const (
	ThemeLight  RoomTheme = "light"
	ThemeDark   RoomTheme = "dark"
	ThemeCustom RoomTheme = "custom"
)

// RoomLayout は参加者表示のレイアウト。
type RoomLayout string

const (
	LayoutGrid      RoomLayout = "grid"
	LayoutSpotlight RoomLayout = "spotlight"
	LayoutSidebar   RoomLayout = "sidebar"
)

// RoomSettings はミーティングルームのブランディング設定を表す。
type RoomSettings struct {
	ID                 string
	UserID             string
	Title              string
	WelcomeMessage     string
	LogoURL            string
	BackgroundType     BackgroundType
	BackgroundColor    string
	BackgroundImageURL string
	PrimaryColor       string
	Theme              RoomTheme
	Layout             RoomLayout
	Watermark          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DefaultRoomSettings は新規ユーザーに割り当てる初期ルーム設定を返す。
func DefaultRoomSettings(userID string) *RoomSettings {
	return &RoomSettings{
		UserID:          userID,
		Title:           "My Meeting Room",
		WelcomeMessage:  "Welcome to my virtual meeting room!",
		BackgroundType:  BackgroundColor,
		BackgroundColor: "#f0f2f5",
		PrimaryColor:    "#1890ff",
		Theme:           ThemeLight,
		Layout:          LayoutGrid,
		Watermark:       true,
	}
}

// RoomSettingsPatch はルーム設定の部分更新。nilのフィールドは現在値を維持する。
type RoomSettingsPatch struct {
	Title              *string
	WelcomeMessage     *string
	LogoURL            *string
	BackgroundType     *BackgroundType
	BackgroundColor    *string
	BackgroundImageURL *string
	PrimaryColor       *string
	Theme              *RoomTheme
	Layout             *RoomLayout
	Watermark          *bool
}

// Apply はpatchを現在の設定にマージする。
func (r *RoomSettings) Apply(patch RoomSettingsPatch) {
	if patch.Title != nil {
		r.Title = *patch.Title
	}
	if patch.WelcomeMessage != nil {
		r.WelcomeMessage = *patch.WelcomeMessage
	}
	if patch.LogoURL != nil {
		r.LogoURL = *patch.LogoURL
	}
	if patch.BackgroundType != nil {
		r.BackgroundType = *patch.BackgroundType
	}
	if patch.BackgroundColor != nil {
		r.BackgroundColor = *patch.BackgroundColor
	}
	if patch.BackgroundImageURL != nil {
		r.BackgroundImageURL = *patch.BackgroundImageURL
	}
	if patch.PrimaryColor != nil {
		r.PrimaryColor = *patch.PrimaryColor
	}
	if patch.Theme != nil {
		r.Theme = *patch.Theme
	}
	if patch.Layout != nil {
		r.Layout = *patch.Layout
	}
	if patch.Watermark != nil {
		r.Watermark = *patch.Watermark
	}
}

// PublicRoom はサブドメインで公開されるミーティングルームの表示情報。
type PublicRoom struct {
	Subdomain string
	OwnerName string
	Settings  *RoomSettings
}
