package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はルーム表示用のユーザー入力をサニタイズする。
type TextSanitizer interface {
	// SanitizeTitle はHTMLをすべて除去したプレーンテキストを返す。
	SanitizeTitle(raw string) string
	// SanitizeWelcome は許可した書式タグだけを残したHTMLを返す。
	SanitizeWelcome(raw string) string
}

// roomSanitizer はTextSanitizerの実装。bluemondayのポリシーはスレッドセーフに使える。
type roomSanitizer struct {
	strict  *bluemonday.Policy
	welcome *bluemonday.Policy
}

// NewRoomSanitizer はルーム設定用のサニタイザーを生成する。
// ウェルカムメッセージのポリシー:
//   - 許可タグ: p, br, strong, em, a
//   - aのhrefはhttpsのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - script, style, img, iframe と on* 属性は除去
func NewRoomSanitizer() *roomSanitizer {
	welcome := bluemonday.NewPolicy()
	welcome.AllowElements("p", "br", "strong", "em")
	welcome.AllowAttrs("href").OnElements("a")
	welcome.AllowRelativeURLs(false)
	welcome.AddTargetBlankToFullyQualifiedLinks(true)
	welcome.RequireNoReferrerOnLinks(true)
	welcome.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &roomSanitizer{
		strict:  bluemonday.StrictPolicy(),
		welcome: welcome,
	}
}

// SanitizeTitle はタグを除去し、エスケープを戻したうえで山括弧を取り除く。
func (s *roomSanitizer) SanitizeTitle(raw string) string {
	text := html.UnescapeString(s.strict.Sanitize(raw))
	text = strings.NewReplacer("<", "", ">", "").Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

// SanitizeWelcome は許可タグ以外を除去する。
func (s *roomSanitizer) SanitizeWelcome(raw string) string {
	return strings.TrimSpace(s.welcome.Sanitize(raw))
}

// compile-time interface check
var _ TextSanitizer = (*roomSanitizer)(nil)
