package extraction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/purplefabric/graphrag/internal/graphevent"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphrag_extraction_runs_total",
		Help: "Extraction runs by terminal state.",
	}, []string{"state"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphrag_extraction_events_total",
		Help: "Extraction events written, by event type.",
	}, []string{"type"})

	quarantinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphrag_extraction_quarantines_total",
		Help: "Quarantined events, by recoverability.",
	}, []string{"recoverable"})
)

func recordRunOutcome(state State) {
	runsTotal.WithLabelValues(string(state)).Inc()
}

func recordBatch(batch *graphevent.Batch) {
	eventsTotal.WithLabelValues("node").Add(float64(batch.Stats.Nodes))
	eventsTotal.WithLabelValues("edge").Add(float64(batch.Stats.Edges))
	eventsTotal.WithLabelValues("assertion").Add(float64(batch.Stats.Assertions))
	eventsTotal.WithLabelValues("evidence").Add(float64(batch.Stats.Evidence))
	eventsTotal.WithLabelValues("candidate").Add(float64(batch.Stats.Candidates))
	for _, q := range batch.Quarantine {
		quarantinesTotal.WithLabelValues(boolLabel(q.Recoverable)).Inc()
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
