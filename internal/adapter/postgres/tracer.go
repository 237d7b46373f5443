package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/HimethW/RFID-forklift/internal/adapter/metrics"
	"github.com/jackc/pgx/v5"
)

// MetricsTracer implements pgx.QueryTracer to collect query duration and
// error metrics.
type MetricsTracer struct {
	metrics *metrics.DatabaseMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.DatabaseMetrics) *MetricsTracer {
	return &MetricsTracer{metrics: m}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: extractQueryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	t.metrics.QueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		t.metrics.QueryErrors.WithLabelValues(qctx.queryName).Inc()
	}
}

// extractQueryName reduces SQL to a low-cardinality label: the statement verb,
// plus the target table for INSERT/UPDATE/DELETE/SELECT ... FROM.
func extractQueryName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}

	verb := strings.ToLower(fields[0])
	var keyword string
	switch verb {
	case "insert", "delete":
		keyword = "into"
		if verb == "delete" {
			keyword = "from"
		}
	case "select":
		keyword = "from"
	case "update":
		if len(fields) > 1 {
			return verb + "_" + cleanIdent(fields[1])
		}
		return verb
	default:
		if len(verb) > 20 {
			return verb[:20]
		}
		return verb
	}

	for i := 1; i < len(fields)-1; i++ {
		if strings.EqualFold(fields[i], keyword) {
			return verb + "_" + cleanIdent(fields[i+1])
		}
	}
	return verb
}

func cleanIdent(s string) string {
	s = strings.ToLower(strings.Trim(s, `"(;`))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return s
}
