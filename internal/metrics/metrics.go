package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the media services and the HTTP
// layer. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Uploads          *prometheus.CounterVec
	UploadBytes      *prometheus.CounterVec
	CleanupFailures  *prometheus.CounterVec
	OrphanedBlobs    *prometheus.CounterVec
	ReconcileDeleted *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshvault",
			Name:      "uploads_total",
			Help:      "Uploads and replacements by kind and result",
		}, []string{"kind", "result"}),
		UploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshvault",
			Name:      "upload_bytes_total",
			Help:      "Bytes written to the blob store",
		}, []string{"kind"}),
		CleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshvault",
			Name:      "cleanup_failures_total",
			Help:      "Best-effort blob deletions that failed",
		}, []string{"kind", "op"}),
		OrphanedBlobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshvault",
			Name:      "orphaned_blobs_total",
			Help:      "Blobs left without a ledger entry after a failed ledger write",
		}, []string{"kind"}),
		ReconcileDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshvault",
			Name:      "reconcile_deleted_total",
			Help:      "Unreferenced blobs removed by reconciliation",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshvault",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by method and status class",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		m.Uploads,
		m.UploadBytes,
		m.CleanupFailures,
		m.OrphanedBlobs,
		m.ReconcileDeleted,
		m.HTTPRequests,
	)

	return m
}

func (m *Metrics) Upload(kind string, result string, bytes int64) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(kind, result).Inc()
	if bytes > 0 {
		m.UploadBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

func (m *Metrics) CleanupFailure(kind string, op string) {
	if m == nil {
		return
	}
	m.CleanupFailures.WithLabelValues(kind, op).Inc()
}

func (m *Metrics) OrphanedBlob(kind string) {
	if m == nil {
		return
	}
	m.OrphanedBlobs.WithLabelValues(kind).Inc()
}

func (m *Metrics) Reconciled(kind string, deleted int) {
	if m == nil {
		return
	}
	m.ReconcileDeleted.WithLabelValues(kind).Add(float64(deleted))
}

func (m *Metrics) Request(method string, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, code).Inc()
}
