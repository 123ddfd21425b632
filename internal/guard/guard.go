// Package guard はナビゲーション先ごとのアクセス判定を提供する。
//
// Evaluateはセッションストアのスナップショットを読むだけの純粋関数で、状態は変更しない。
package guard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/virtucalls/internal/metrics"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

// 遷移先
const (
	LoginPath   = "/login"
	AccountPath = "/dashboard/account"
)

// Kind はアクセス判定の種類。
type Kind int

const (
	// Render は要求された遷移先をそのまま表示する。
	Render Kind = iota
	// Wait は初回のセッション確認が終わるまで待機表示を返す。リダイレクトはしない。
	Wait
	// RedirectLogin はログイン画面へ遷移させる。元の遷移先はfromパラメータで引き継ぐ。
	RedirectLogin
	// RedirectAccount はサブスクリプション未契約のためアカウント設定画面へ遷移させる。
	RedirectAccount
)

// String はメトリクスとログで使うラベルを返す。
func (k Kind) String() string {
	switch k {
	case Render:
		return "render"
	case Wait:
		return "wait"
	case RedirectLogin:
		return "redirect_login"
	case RedirectAccount:
		return "redirect_account"
	default:
		return "unknown"
	}
}

// Target はナビゲーション先。Pathはクエリ文字列を含めてよい。
type Target struct {
	Path                string
	RequireSubscription bool
}

// Decision はアクセス判定の結果。LocationはRedirect系の場合のみ設定される。
type Decision struct {
	Kind     Kind
	Location string
}

// Evaluate はセッション状態と遷移先からアクセス判定を行う。
func Evaluate(st session.State, target Target) Decision {
	switch {
	case st.IsLoading:
		return Decision{Kind: Wait}
	case !st.IsAuthenticated:
		return Decision{Kind: RedirectLogin, Location: LoginLocation(target.Path)}
	case target.RequireSubscription && !st.User.IsSubscribed:
		return Decision{Kind: RedirectAccount, Location: AccountPath + "?subscriptionRequired=true"}
	default:
		return Decision{Kind: Render}
	}
}

// LoginLocation は元の遷移先を引き継ぐログイン画面のURLを返す。
func LoginLocation(from string) string {
	if from == "" {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"from": {from}}.Encode()
}

// StateSource はリクエストのクライアントに対応するセッション状態を返す。
type StateSource interface {
	State(r *http.Request) (session.State, error)
}

// StateSourceFunc は関数をStateSourceとして扱うアダプター。
type StateSourceFunc func(r *http.Request) (session.State, error)

// State はStateSourceを実装する。
func (f StateSourceFunc) State(r *http.Request) (session.State, error) {
	return f(r)
}

// Guard はEvaluateの結果をHTTPレスポンスに変換するミドルウェアを提供する。
type Guard struct {
	states  StateSource
	metrics metrics.MetricsCollector
}

// New はGuardを生成する。collectorがnilの場合は記録しない。
func New(states StateSource, collector metrics.MetricsCollector) *Guard {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Guard{states: states, metrics: collector}
}

// Protect はログインが必要な遷移先のミドルウェアを返す。
func (g *Guard) Protect() func(next http.Handler) http.Handler {
	return g.middleware(false)
}

// RequireSubscription はログインと有料プランの契約が必要な遷移先のミドルウェアを返す。
func (g *Guard) RequireSubscription() func(next http.Handler) http.Handler {
	return g.middleware(true)
}

func (g *Guard) middleware(requireSubscription bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, err := g.states.State(r)
			if err != nil {
				slog.Error("failed to resolve session state for guard",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeUnavailable(w)
				return
			}

			d := Evaluate(st, Target{Path: r.URL.RequestURI(), RequireSubscription: requireSubscription})
			g.metrics.RecordGuardDecision(d.Kind.String())

			switch d.Kind {
			case Render:
				next.ServeHTTP(w, r)
			case Wait:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]string{"status": "loading"})
			default:
				slog.Debug("guard redirect",
					slog.String("path", r.URL.Path),
					slog.String("decision", d.Kind.String()),
				)
				http.Redirect(w, r, d.Location, http.StatusFound)
			}
		})
	}
}

func writeUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{
		"code":     model.ErrCodeSessionNotEstablished,
		"message":  "Session state is not available.",
		"category": model.CategorySystem,
		"action":   "Reload the page.",
	})
}
