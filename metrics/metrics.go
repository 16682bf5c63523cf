package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "squish"
)

var (
	Debug                bool = true
	validStatuses             = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusError, types.TestStatusCanceled}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	processStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "process_starts_total",
		Help:      "Count of squishserver and squishrunner launches",
	}, []string{
		"process",
		"result",
	})

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "results_total",
		Help:      "Count of report entries by type",
	}, []string{
		"type",
	})

	testCasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_cases_total",
		Help:      "Count of executed test cases",
	}, []string{
		"suite",
		"test_case",
		"result",
	})

	suiteRunResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_run_results",
		Help:      "Result of suite runs",
	}, []string{
		"suite",
		"run_id",
		"result",
	})

	suiteRunDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "suite_run_duration_seconds",
		Help:      "Duration of suite runs",
	}, []string{
		"suite",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordProcessStart(process string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	if Debug {
		log.Debug("metric inc",
			"m", "process_starts_total",
			"process", process,
			"result", result)
	}
	processStartsTotal.WithLabelValues(process, result).Inc()
}

func RecordResult(resultType types.ResultType) {
	resultsTotal.WithLabelValues(string(resultType)).Inc()
}

func RecordTestCase(suite string, testCase string, status types.TestStatus) {
	if !isValidStatus(status) {
		log.Error("RecordTestCase - invalid status", "status", status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_cases_total",
			"suite", suite,
			"test_case", testCase,
			"result", status)
	}
	testCasesTotal.WithLabelValues(suite, testCase, string(status)).Inc()
}

func RecordSuiteRun(suite string, runID string, status types.TestStatus, duration time.Duration) {
	suiteRunResults.WithLabelValues(suite, runID, string(status)).Set(1)
	suiteRunDuration.WithLabelValues(suite, runID).Set(duration.Seconds())
}

func isValidStatus(status types.TestStatus) bool {
	return slices.Contains(validStatuses, status)
}
