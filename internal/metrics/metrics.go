// 包 metrics：查询与更新的 Prometheus 指标；CLI 为短进程，通过 textfile 导出
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "macdb_lookups_total",
		Help: "Total number of cache lookups by kind",
	}, []string{"kind"})
	LookupErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "macdb_lookup_errors_total",
		Help: "Total number of failed lookups by kind",
	}, []string{"kind"})
	LookupDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "macdb_lookup_duration_ms",
		Help:    "Lookup duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
	}, []string{"kind"})
	MemoHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "macdb_memo_hits_total",
		Help: "Total redis memo hits",
	})
	MemoMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "macdb_memo_misses_total",
		Help: "Total redis memo misses",
	})
	FeedLinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "macdb_feed_lines_total",
		Help: "Feed lines processed by result (inserted|skipped)",
	}, []string{"result"})
	UpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "macdb_updates_total",
		Help: "Cache replacements by result (ok|fail)",
	}, []string{"result"})
	UpdateDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "macdb_update_duration_ms",
		Help:    "Cache replacement duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

func init() {
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupErrorsTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(MemoHitsTotal)
	prometheus.MustRegister(MemoMissesTotal)
	prometheus.MustRegister(FeedLinesTotal)
	prometheus.MustRegister(UpdatesTotal)
	prometheus.MustRegister(UpdateDurationMs)
}

// RecordUpdate：记录一次缓存替换的结果与导入行数
func RecordUpdate(ok bool, inserted, skipped int, ms float64) {
	result := "ok"
	if !ok {
		result = "fail"
	}
	UpdatesTotal.WithLabelValues(result).Inc()
	UpdateDurationMs.Observe(ms)
	FeedLinesTotal.WithLabelValues("inserted").Add(float64(inserted))
	FeedLinesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// WriteTextfile：把默认注册表写成 node_exporter textfile 格式
// 背景：CLI 每次运行即退出，无法被抓取；写文件由 textfile collector 采集
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Handler：嵌入长驻进程时暴露 /metrics
func Handler() http.Handler { return promhttp.Handler() }
