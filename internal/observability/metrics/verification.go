package metrics

import "time"

// VerificationAttempt records one verifier call and its latency.
func VerificationAttempt(kind string, d time.Duration) {
	if !enabled {
		return
	}
	attemptsTotal.WithLabelValues(kind).Inc()
	callDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// VerificationResult records the terminal outcome of a contract.
func VerificationResult(outcome string) {
	if !enabled {
		return
	}
	resultsTotal.WithLabelValues(outcome).Inc()
}

// LibrariesPruned records libraries removed by a pruning rule.
func LibrariesPruned(rule string, n int) {
	if !enabled || n == 0 {
		return
	}
	librariesPruned.WithLabelValues(rule).Add(float64(n))
}

// ManifestSkip records a skipped deployment record.
func ManifestSkip() {
	if !enabled {
		return
	}
	manifestSkipsTotal.Inc()
}
