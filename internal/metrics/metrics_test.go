package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findFamily はレジストリから指定名のメトリクスファミリーを取り出す。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// counterWithLabel はラベル値が一致するカウンタの値を返す。
func counterWithLabel(mf *dto.MetricFamily, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAuthEvent_CountsByKind は認証イベントが種別ごとに数えられることを検証する。
func TestRecordAuthEvent_CountsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthEvent("SIGNED_IN")
	c.RecordAuthEvent("SIGNED_IN")
	c.RecordAuthEvent("SIGNED_OUT")

	mf := findFamily(t, reg, "virtucalls_auth_events_total")
	if got := counterWithLabel(mf, "SIGNED_IN"); got != 2 {
		t.Errorf("auth_events_total{kind=SIGNED_IN} = %v, want 2", got)
	}
	if got := counterWithLabel(mf, "SIGNED_OUT"); got != 1 {
		t.Errorf("auth_events_total{kind=SIGNED_OUT} = %v, want 1", got)
	}
}

// TestReconcileCounters はリコンサイラー関連のカウンタを検証する。
func TestReconcileCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReconcileWrite("push")
	c.RecordReconcileWrite("pull")
	c.RecordReconcileWrite("push")
	c.RecordStaleWriteDropped("pull")
	c.RecordSubscribeRetry()
	c.RecordSubscribeRetry()

	writes := findFamily(t, reg, "virtucalls_reconcile_writes_total")
	if got := counterWithLabel(writes, "push"); got != 2 {
		t.Errorf("reconcile_writes_total{source=push} = %v, want 2", got)
	}
	dropped := findFamily(t, reg, "virtucalls_reconcile_stale_dropped_total")
	if got := counterWithLabel(dropped, "pull"); got != 1 {
		t.Errorf("stale_dropped_total{source=pull} = %v, want 1", got)
	}
	retries := findFamily(t, reg, "virtucalls_subscribe_retries_total")
	if got := retries.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("subscribe_retries_total = %v, want 2", got)
	}
}

// TestSetMountedClients_Gauge はマウント数のゲージが最新値になることを検証する。
func TestSetMountedClients_Gauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetMountedClients(5)
	c.SetMountedClients(3)

	mf := findFamily(t, reg, "virtucalls_mounted_clients")
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("mounted_clients = %v, want 3", got)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はHTTPステータスカウンタがラベル付きで増加することを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(302)

	mf := findFamily(t, reg, "virtucalls_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
	}
	if got := counterWithLabel(mf, "200"); got != 2 {
		t.Errorf("http_status_total{status_code=200} = %v, want 2", got)
	}
	if got := counterWithLabel(mf, "302"); got != 1 {
		t.Errorf("http_status_total{status_code=302} = %v, want 1", got)
	}
}

// TestRecordRequestLatency_ObservesHistogram はリクエスト処理時間のヒストグラムを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(100 * time.Millisecond)
	c.RecordRequestLatency(2 * time.Second)

	h := findFamily(t, reg, "virtucalls_request_latency_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
	}
	// 合計は0.1 + 2.0 = 2.1秒
	if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
		t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGuardDecision("redirect_login")
	c.RecordProvisioningFailure("room")
	c.RecordPayment("success")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, metric := range []string{
		"virtucalls_guard_decisions_total",
		"virtucalls_provisioning_failures_total",
		"virtucalls_payments_total",
	} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordSubscribeRetry()
	c2.RecordSubscribeRetry()
	c2.RecordSubscribeRetry()

	v1 := findFamily(t, reg1, "virtucalls_subscribe_retries_total").GetMetric()[0].GetCounter().GetValue()
	v2 := findFamily(t, reg2, "virtucalls_subscribe_retries_total").GetMetric()[0].GetCounter().GetValue()
	if v1 != 1 {
		t.Errorf("reg1 subscribe_retries = %v, want 1", v1)
	}
	if v2 != 2 {
		t.Errorf("reg2 subscribe_retries = %v, want 2", v2)
	}
}
