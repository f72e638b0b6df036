package storage

import (
	"expvar"
	"fmt"
	"sync"

	tdigest "github.com/caio/go-tdigest/v4"
)

// latencyBuckets defines the buckets for latency histograms (in seconds).
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Metrics holds all expvar variables for a Manager instance. A manager
// created without explicit metrics gets a private, unpublished set so
// tests can run many managers in one process.
type Metrics struct {
	PublishedGlobally bool

	OpensTotal               *expvar.Int
	OpenErrorsTotal          *expvar.Int
	ClosesTotal              *expvar.Int
	CreatesTotal             *expvar.Int
	CreateErrorsTotal        *expvar.Int
	ConsolidationsTotal      *expvar.Int
	ConsolidationErrorsTotal *expvar.Int
	MovesTotal               *expvar.Int
	DeletesTotal             *expvar.Int
	LsTotal                  *expvar.Int

	FragmentsConsolidatedTotal *expvar.Int

	OpenLatencyHist          *expvar.Map
	ConsolidationLatencyHist *expvar.Map

	openDigest          *latencyDigest
	consolidationDigest *latencyDigest
}

// NewMetrics creates and initializes a Metrics set. With publishGlobally
// the variables land in the process-wide expvar namespace under the
// given prefix; otherwise they stay private to the returned struct.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	var newIntFunc func(string) *expvar.Int
	var newMapFunc func(string) *expvar.Map

	if publishGlobally {
		newIntFunc = publishExpvarInt
		newMapFunc = publishExpvarMap
	} else {
		newIntFunc = func(_ string) *expvar.Int { return new(expvar.Int) }
		newMapFunc = func(_ string) *expvar.Map {
			m := new(expvar.Map)
			m.Init()
			return m
		}
	}

	mt := &Metrics{
		PublishedGlobally: publishGlobally,

		OpensTotal:               newIntFunc(prefix + "opens_total"),
		OpenErrorsTotal:          newIntFunc(prefix + "open_errors_total"),
		ClosesTotal:              newIntFunc(prefix + "closes_total"),
		CreatesTotal:             newIntFunc(prefix + "creates_total"),
		CreateErrorsTotal:        newIntFunc(prefix + "create_errors_total"),
		ConsolidationsTotal:      newIntFunc(prefix + "consolidations_total"),
		ConsolidationErrorsTotal: newIntFunc(prefix + "consolidation_errors_total"),
		MovesTotal:               newIntFunc(prefix + "moves_total"),
		DeletesTotal:             newIntFunc(prefix + "deletes_total"),
		LsTotal:                  newIntFunc(prefix + "ls_total"),

		FragmentsConsolidatedTotal: newIntFunc(prefix + "fragments_consolidated_total"),

		OpenLatencyHist:          newMapFunc(prefix + "open_latency_seconds"),
		ConsolidationLatencyHist: newMapFunc(prefix + "consolidation_latency_seconds"),

		openDigest:          newLatencyDigest(),
		consolidationDigest: newLatencyDigest(),
	}

	initHistogramMap(mt.OpenLatencyHist)
	initHistogramMap(mt.ConsolidationLatencyHist)

	if publishGlobally {
		publishExpvarFunc(prefix+"open_latency_quantiles", mt.openDigest.snapshot)
		publishExpvarFunc(prefix+"consolidation_latency_quantiles", mt.consolidationDigest.snapshot)
	}

	return mt
}

// ObserveOpen records one array-open latency.
func (mt *Metrics) ObserveOpen(seconds float64) {
	observeLatency(mt.OpenLatencyHist, seconds)
	mt.openDigest.observe(seconds)
}

// ObserveConsolidation records one consolidation latency.
func (mt *Metrics) ObserveConsolidation(seconds float64) {
	observeLatency(mt.ConsolidationLatencyHist, seconds)
	mt.consolidationDigest.observe(seconds)
}

// OpenQuantiles returns the current open-latency quantile snapshot.
func (mt *Metrics) OpenQuantiles() map[string]float64 {
	return mt.openDigest.quantiles()
}

// initHistogramMap pre-creates the count, sum and bucket entries so
// observeLatency never races on map insertion.
func initHistogramMap(m *expvar.Map) {
	m.Set("count", new(expvar.Int))
	m.Set("sum", new(expvar.Float))
	for _, b := range latencyBuckets {
		m.Set(fmt.Sprintf("le_%.3f", b), new(expvar.Int))
	}
	m.Set("le_inf", new(expvar.Int))
}

// observeLatency records the duration in the provided histogram map.
func observeLatency(histMap *expvar.Map, durationSeconds float64) {
	if histMap == nil {
		return
	}
	if countVar := histMap.Get("count"); countVar != nil {
		if countInt, ok := countVar.(*expvar.Int); ok {
			countInt.Add(1)
		}
	}
	if sumVar := histMap.Get("sum"); sumVar != nil {
		if sumFloat, ok := sumVar.(*expvar.Float); ok {
			sumFloat.Add(durationSeconds)
		}
	}

	// For a cumulative histogram, a value that fits in a smaller bucket
	// must also be counted in all larger buckets.
	for _, b := range latencyBuckets {
		bucketName := fmt.Sprintf("le_%.3f", b)
		if durationSeconds <= b {
			if bucketVar := histMap.Get(bucketName); bucketVar != nil {
				if bucketInt, ok := bucketVar.(*expvar.Int); ok {
					bucketInt.Add(1)
				}
			}
		}
	}
	// All finite observations are less than +Inf.
	if infVar := histMap.Get("le_inf"); infVar != nil {
		if infInt, ok := infVar.(*expvar.Int); ok {
			infInt.Add(1)
		}
	}
}

// latencyDigest tracks latency quantiles with a t-digest behind a
// mutex; expvar snapshots read it concurrently with observers.
type latencyDigest struct {
	mu sync.Mutex
	td *tdigest.TDigest
}

func newLatencyDigest() *latencyDigest {
	td, err := tdigest.New()
	if err != nil {
		// tdigest.New only fails on invalid options; none are passed.
		panic(fmt.Sprintf("tdigest.New failed: %v", err))
	}
	return &latencyDigest{td: td}
}

func (d *latencyDigest) observe(seconds float64) {
	d.mu.Lock()
	_ = d.td.Add(seconds)
	d.mu.Unlock()
}

func (d *latencyDigest) quantiles() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.td.Count() == 0 {
		return map[string]float64{}
	}
	return map[string]float64{
		"p50": d.td.Quantile(0.50),
		"p95": d.td.Quantile(0.95),
		"p99": d.td.Quantile(0.99),
	}
}

func (d *latencyDigest) snapshot() interface{} {
	return d.quantiles()
}

// publishExpvarInt safely publishes an expvar.Int. If the name already
// exists as an *expvar.Int it is reset and reused; a type clash panics.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

// publishExpvarFloat safely publishes an expvar.Float.
func publishExpvarFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0.0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}

// publishExpvarMap safely publishes an expvar.Map.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		mv.Init()
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}

// publishExpvarFunc publishes an expvar.Func once; expvar.Publish
// panics on reuse, so an existing name is left alone.
func publishExpvarFunc(name string, f func() interface{}) {
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(f))
}
