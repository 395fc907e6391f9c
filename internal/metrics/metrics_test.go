package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordJobReportAdvancesCounters(t *testing.T) {
	before := testutil.ToFloat64(EvolutionJobScannedTotal.WithLabelValues("importance"))

	RecordJobReport("importance", 40, 5, 1.5)

	after := testutil.ToFloat64(EvolutionJobScannedTotal.WithLabelValues("importance"))
	if after != before+40 {
		t.Errorf("expected scanned counter to advance by 40, got %f -> %f", before, after)
	}

	mutated := testutil.ToFloat64(EvolutionJobMutatedTotal.WithLabelValues("importance"))
	if mutated < 5 {
		t.Errorf("expected mutated counter to have recorded at least 5, got %f", mutated)
	}
}

func TestPrefetchCacheSamplerOnlyAddsForwardDeltas(t *testing.T) {
	before := testutil.ToFloat64(PrefetchCacheHitsTotal)

	var sampler PrefetchCacheSampler
	sampler.Sample(10, 2)
	afterFirst := testutil.ToFloat64(PrefetchCacheHitsTotal)
	if afterFirst != before+10 {
		t.Errorf("expected first sample to add 10 hits, got %f -> %f", before, afterFirst)
	}

	// A second sample with the same totals must not double-count.
	sampler.Sample(10, 2)
	afterSecond := testutil.ToFloat64(PrefetchCacheHitsTotal)
	if afterSecond != afterFirst {
		t.Errorf("expected unchanged totals to add nothing, got %f -> %f", afterFirst, afterSecond)
	}

	// A regression (e.g. counter reset) must not go negative or panic.
	sampler.Sample(5, 1)
	afterRegression := testutil.ToFloat64(PrefetchCacheHitsTotal)
	if afterRegression != afterSecond {
		t.Errorf("expected a backward delta to add nothing, got %f -> %f", afterSecond, afterRegression)
	}
}
