// Package reconciler はIDプロバイダーの2つの非同期な情報源をセッションストアに統合する。
//
// 1つはクライアントの認証状態変化のpush通知、もう1つはマウント時に1回だけ行う
// 現在のセッションのpullで、どちらも完了順序は保証されない。
// push通知は受信順に論理シーケンス番号を振り、書き込みはその時点で最新の番号を持つものだけを反映する。
// pullは発行時点の世代を記録し、その後にpush通知かプロフィールの更新が1件でもあれば結果を破棄する。
// これにより遅れて届いたpullが新しいpushの結果を古い値で上書きすることはない。
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hitoshi/virtucalls/internal/identity"
	"github.com/hitoshi/virtucalls/internal/metrics"
	"github.com/hitoshi/virtucalls/internal/model"
	"github.com/hitoshi/virtucalls/internal/session"
)

// 書き込み元のラベル
const (
	sourcePush        = "push"
	sourcePull        = "pull"
	sourceInteraction = "interaction"
)

// DefaultRetryMaxInterval は購読再試行の間隔の上限の既定値。
const DefaultRetryMaxInterval = 30 * time.Second

// Options はReconcilerとPoolの共通設定。
type Options struct {
	Enricher         *Enricher
	Metrics          metrics.MetricsCollector
	Logger           *slog.Logger
	RetryMaxInterval time.Duration
	// RetryInitialInterval は購読再試行の初回待ち時間。0の場合はbackoffの既定値を使う。
	RetryInitialInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Metrics == nil {
		o.Metrics = metrics.NopCollector{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = DefaultRetryMaxInterval
	}
	return o
}

// userPatch はユーザーごとのプロフィール更新。
type userPatch struct {
	userID string
	patch  model.UserPatch
}

// Reconciler はクライアント1つ分のセッションストアの唯一の書き込み手。
type Reconciler struct {
	clientID string
	provider identity.Provider
	store    *session.Store
	writer   *session.Writer
	opts     Options
	logger   *slog.Logger

	mu          sync.Mutex
	seq         uint64 // 受理したpush通知の通し番号
	epoch       uint64 // pullを無効にする書き込みの世代
	writes      uint64 // 反映済みの書き込み回数
	patches     []userPatch
	mounted     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe identity.Unsubscribe
	wg          sync.WaitGroup
}

// New はReconcilerを生成する。ストアはロード中の初期状態で作られる。
func New(clientID string, provider identity.Provider, persister session.Persister, opts Options) *Reconciler {
	opts = opts.withDefaults()
	store, writer := session.New(clientID, persister)
	return &Reconciler{
		clientID: clientID,
		provider: provider,
		store:    store,
		writer:   writer,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("client_id", clientID)),
	}
}

// Store は読み取り専用のセッションストアを返す。
func (r *Reconciler) Store() *session.Store {
	return r.store
}

// Mount はpush通知の購読とセッションのpullを並行して開始する。
// 最初の購読の試行が終わるまで待ってから戻るため、戻った後に発生した認証イベントは取りこぼさない。
// 購読に失敗した場合はバックグラウンドで再試行を続ける。2回目以降の呼び出しは何もしない。
func (r *Reconciler) Mount(ctx context.Context) {
	r.mu.Lock()
	if r.mounted || r.closed {
		r.mu.Unlock()
		return
	}
	r.mounted = true
	// リコンサイラーの寿命はマウントを要求したリクエストより長い
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := r.ctx
	pullEpoch := r.epoch
	r.wg.Add(2)
	r.mu.Unlock()

	armed := make(chan struct{})
	go r.subscribe(runCtx, armed)
	go r.pull(runCtx, pullEpoch)

	select {
	case <-armed:
	case <-ctx.Done():
	}
}

// subscribe はpush通知の購読を確立する。失敗した場合は指数バックオフで再試行する。
// armedは最初の試行が終わった時点でcloseする。
func (r *Reconciler) subscribe(ctx context.Context, armed chan struct{}) {
	defer r.wg.Done()

	exp := backoff.NewExponentialBackOff()
	if r.opts.RetryInitialInterval > 0 {
		exp.InitialInterval = r.opts.RetryInitialInterval
	}
	exp.MaxInterval = r.opts.RetryMaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := 0
	for {
		attempts++
		unsub, err := r.provider.Subscribe(ctx, r.clientID, r.handleEvent)
		if attempts == 1 {
			close(armed)
		}
		if err == nil {
			r.armed(ctx, unsub, attempts)
			return
		}

		wait := exp.NextBackOff()
		r.logger.Warn("auth change subscription failed, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
		r.opts.Metrics.RecordSubscribeRetry()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// armed は確立した購読を登録する。既にTeardown済みの場合は即座に解除する。
// 再試行の末に確立した場合は、購読できなかった間の変化を取り込むためにもう一度pullする。
func (r *Reconciler) armed(ctx context.Context, unsub identity.Unsubscribe, attempts int) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsub()
		return
	}
	r.unsubscribe = unsub
	resync := attempts > 1
	pullEpoch := r.epoch
	if resync {
		r.wg.Add(1)
	}
	r.mu.Unlock()

	r.logger.Debug("auth change subscription armed", slog.Int("attempts", attempts))
	if resync {
		r.logger.Info("auth change subscription recovered, resynchronizing session")
		go r.pull(ctx, pullEpoch)
	}
}

// pull は現在のセッションを取得し、発行後にpush通知が届いていなければ反映する。
func (r *Reconciler) pull(ctx context.Context, pullEpoch uint64) {
	defer r.wg.Done()

	sess, err := r.provider.GetSession(ctx, r.clientID)
	if err != nil {
		r.logger.Error("initial session check failed", slog.String("error", err.Error()))
		r.applyPull(pullEpoch, func() {
			r.writer.SetLoading(false)
		})
		return
	}

	user := r.opts.Enricher.Enrich(ctx, sess)
	r.applyPull(pullEpoch, func() {
		if user != nil {
			r.writer.SetUser(ctx, user)
		} else {
			r.writer.Clear(ctx)
		}
		r.writer.SetLoading(false)
	})
}

func (r *Reconciler) applyPull(pullEpoch uint64, write func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.epoch != pullEpoch {
		r.logger.Debug("discarding stale session check result",
			slog.Uint64("issued_at_epoch", pullEpoch),
			slog.Uint64("current_epoch", r.epoch),
		)
		r.opts.Metrics.RecordStaleWriteDropped(sourcePull)
		return
	}
	write()
	r.writes++
	r.opts.Metrics.RecordReconcileWrite(sourcePull)
}

// handleEvent はpush通知を処理する。
// SIGNED_IN・TOKEN_REFRESHED・USER_UPDATEDでセッションがあればユーザーを設定し、
// SIGNED_OUTでユーザーを削除する。どちらもロード中を解除する。
func (r *Reconciler) handleEvent(event model.AuthEvent) {
	r.opts.Metrics.RecordAuthEvent(string(event.Kind))

	signedOut := event.Kind == model.AuthEventSignedOut
	if !signedOut && !event.CarriesSession() {
		r.logger.Debug("ignoring auth event", slog.String("event", string(event.Kind)))
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.seq++
	r.epoch++
	seq := r.seq
	ctx := r.ctx
	// 受信前のプロフィール更新はこのイベントのユーザーで置き換わる
	r.patches = nil
	r.mu.Unlock()

	r.logger.Info("auth state changed",
		slog.String("event", string(event.Kind)),
		slog.Uint64("seq", seq),
	)

	if signedOut {
		r.applyPush(seq, event.Kind, func() {
			r.writer.Clear(ctx)
			r.writer.SetLoading(false)
		})
		return
	}

	// ルックアップはロックの外で行い、反映時に最新かどうかを確認する
	user := r.opts.Enricher.Enrich(ctx, event.Session)
	r.applyPush(seq, event.Kind, func() {
		r.writer.SetUser(ctx, r.reapplyPatches(user))
		r.writer.SetLoading(false)
	})
}

// reapplyPatches はルックアップ中に行われたプロフィール更新をuserに重ねる。
// 呼び出し側でr.muを保持していること。
func (r *Reconciler) reapplyPatches(user *model.User) *model.User {
	patches := r.patches
	r.patches = nil
	for _, p := range patches {
		if user != nil && user.ID == p.userID {
			user = user.Merge(p.patch)
		}
	}
	return user
}

func (r *Reconciler) applyPush(seq uint64, kind model.AuthEventKind, write func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.seq != seq {
		r.logger.Debug("discarding superseded auth event",
			slog.String("event", string(kind)),
			slog.Uint64("seq", seq),
			slog.Uint64("current_seq", r.seq),
		)
		r.opts.Metrics.RecordStaleWriteDropped(sourcePush)
		return
	}
	write()
	r.writes++
	r.opts.Metrics.RecordReconcileWrite(sourcePush)
}

// BeginInteraction はログインやサインアップの試行中としてロード中フラグを立てる。
// 返された関数を試行の結果とともに呼ぶと、成功時はロード中を解除する。
// 失敗時は試行前の値に戻すが、試行中に他の書き込みが反映されていればその値を残す。
func (r *Reconciler) BeginInteraction() func(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return func(error) {}
	}
	prev := r.store.Snapshot().IsLoading
	mark := r.writes
	r.writer.SetLoading(true)

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.closed {
				return
			}
			switch {
			case err == nil:
				r.writer.SetLoading(false)
			case r.writes == mark:
				r.writer.SetLoading(prev)
			default:
				r.logger.Debug("keeping loading state written during interaction")
			}
			r.writes++
			r.opts.Metrics.RecordReconcileWrite(sourceInteraction)
		})
	}
}

// UpdateUser は現在のユーザーにpatchを浅くマージする。変更はこのセッション内に閉じる。
// ユーザーがいない場合はfalseを返す。
func (r *Reconciler) UpdateUser(ctx context.Context, patch model.UserPatch) (*model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}
	current := r.store.Snapshot().User
	if current == nil {
		return nil, false
	}
	// 実行中のpullは古い値を持つため無効にする。pushはこの変更を重ねて反映する
	r.epoch++
	r.writes++
	r.patches = append(r.patches, userPatch{userID: current.ID, patch: patch})
	merged := current.Merge(patch)
	r.writer.SetUser(ctx, merged)
	r.opts.Metrics.RecordReconcileWrite(sourceInteraction)
	return merged.Clone(), true
}

// Teardown は購読を解除し、実行中の処理を止める。以降の書き込みはすべて無視される。
func (r *Reconciler) Teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsub := r.unsubscribe
	r.unsubscribe = nil
	cancel := r.cancel
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.logger.Debug("reconciler torn down")
}
