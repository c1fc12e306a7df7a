package services

import "github.com/prometheus/client_golang/prometheus"

var (
	enrichmentSourcesCounter *prometheus.CounterVec
	synthesisRunsCounter     *prometheus.CounterVec
	modelAttemptsCounter     *prometheus.CounterVec
)

func init() {
	enrichmentSourcesCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_sources_total",
			Help: "Total number of deduplicated sources collected per provider.",
		},
		[]string{"provider"},
	)
	synthesisRunsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_runs_total",
			Help: "Total number of synthesis runs by result mode (model, local, failed).",
		},
		[]string{"mode"},
	)
	modelAttemptsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthesis_model_attempts_total",
			Help: "Total number of generation attempts by model and outcome.",
		},
		[]string{"model", "outcome"},
	)
	prometheus.MustRegister(enrichmentSourcesCounter, synthesisRunsCounter, modelAttemptsCounter)
}
