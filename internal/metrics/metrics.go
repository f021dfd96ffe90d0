// ============================================================================
// Replica Scaler Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露控制器運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 狀態指標 (Gauge) - 瞬時值：
//      - replica_scaler_replicas{job}: 每個任務當前的存活副本數
//        由 Controller 通過 replica.MetricsSink 更新
//
//   2. 計數器 (Counter) - 累計值，只增不減：
//      - replica_scaler_replicas_created_total{job}: 成功創建的副本數
//      - replica_scaler_replica_failures_total{job,kind}: 記錄的副本失敗數
//        kind = placement | execution
//      - replica_scaler_scale_operations_total{job,direction}: 擴縮容次數
//        direction = up | down | noop
//
//   3. 性能指標 (Histogram)：
//      - replica_scaler_reconcile_duration_seconds{job}: 一次 Scale 的耗時
//
// Prometheus 查詢示例:
//
//   # 每個任務的副本數
//   sum by (job) (replica_scaler_replicas)
//
//   # 放置失敗率
//   rate(replica_scaler_replica_failures_total{kind="placement"}[5m])
//
// HTTP 端點:
//   通過 /metrics 端點暴露，默認端口: 9090
//
// ============================================================================

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/replica-scaler/internal/replica"
)

// log resolves the default logger on every call, so a handler installed
// after package init still applies.
func log() *slog.Logger { return slog.Default() }

// Failure kinds used as the "kind" label.
const (
	FailurePlacement = "placement"
	FailureExecution = "execution"
)

// Scale directions used as the "direction" label.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionNoop = "noop"
)

// Collector Prometheus 指標收集器
type Collector struct {
	replicas        *prometheus.GaugeVec
	replicasCreated *prometheus.CounterVec
	failures        *prometheus.CounterVec
	scaleOps        *prometheus.CounterVec
	reconcile       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewCollector 創建新的指標收集器並註冊到默認 registry
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewCollectorWith 註冊到指定的 registry（測試使用獨立 registry）
func NewCollectorWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		replicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replica_scaler_replicas",
			Help: "Current number of live replicas per job",
		}, []string{"job"}),
		replicasCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_scaler_replicas_created_total",
			Help: "Total number of replicas created",
		}, []string{"job"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_scaler_replica_failures_total",
			Help: "Total number of recorded replica failures",
		}, []string{"job", "kind"}),
		scaleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replica_scaler_scale_operations_total",
			Help: "Total number of scale operations",
		}, []string{"job", "direction"}),
		reconcile: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replica_scaler_reconcile_duration_seconds",
			Help:    "Time spent reconciling replica count",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		gatherer: gatherer,
	}

	// 註冊所有指標
	reg.MustRegister(c.replicas, c.replicasCreated, c.failures, c.scaleOps, c.reconcile)
	return c
}

// Sink returns the replica-count gauge of one job.
func (c *Collector) Sink(job string) replica.MetricsSink {
	return &gaugeSink{gauge: c.replicas.WithLabelValues(job)}
}

// RecordCreated 記錄副本創建
func (c *Collector) RecordCreated(job string) {
	c.replicasCreated.WithLabelValues(job).Inc()
}

// RecordFailure 記錄副本失敗
func (c *Collector) RecordFailure(job, kind string) {
	c.failures.WithLabelValues(job, kind).Inc()
}

// RecordScale 記錄一次擴縮容及其耗時
func (c *Collector) RecordScale(job, direction string, elapsed time.Duration) {
	c.scaleOps.WithLabelValues(job, direction).Inc()
	c.reconcile.WithLabelValues(job).Observe(elapsed.Seconds())
}

// Forget drops every series of a removed job.
func (c *Collector) Forget(job string) {
	c.replicas.DeleteLabelValues(job)
	c.replicasCreated.DeleteLabelValues(job)
	c.reconcile.DeleteLabelValues(job)
	c.failures.DeletePartialMatch(prometheus.Labels{"job": job})
	c.scaleOps.DeletePartialMatch(prometheus.Labels{"job": job})
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

type gaugeSink struct {
	gauge prometheus.Gauge
}

func (s *gaugeSink) Increment()        { s.gauge.Inc() }
func (s *gaugeSink) Decrement()        { s.gauge.Dec() }
func (s *gaugeSink) Set(value float64) { s.gauge.Set(value) }

// StartServer 啟動 Prometheus metrics HTTP 伺服器，ctx 取消時關閉
//
// 參數：
//   - ctx: 生命週期
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - error: 啟動失敗的錯誤
func (c *Collector) StartServer(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log().Info("Metrics server listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
