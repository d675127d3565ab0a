// Package metrics keeps the gateway's counters and gauges and serves them
// in the Prometheus text exposition format.
//
// Instruments are plain atomics. A nil *Counter or *Gauge is a valid no-op,
// so components accept optional instruments without nil checks.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Counter is a monotonically increasing value.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Add(n int64) {
	if c == nil || n < 0 {
		return
	}
	c.v.Add(n)
}

func (c *Counter) Value() int64 {
	if c == nil {
		return 0
	}
	return c.v.Load()
}

// Gauge is a value that can go up and down.
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Add(n int64) {
	if g == nil {
		return
	}
	g.v.Add(n)
}

func (g *Gauge) Set(n int64) {
	if g == nil {
		return
	}
	g.v.Store(n)
}

func (g *Gauge) Value() int64 {
	if g == nil {
		return 0
	}
	return g.v.Load()
}

// CounterVec is a family of counters split by one label.
type CounterVec struct {
	label string
	mu    sync.Mutex
	byVal map[string]*Counter
}

// With returns the counter for the label value, creating it on first use.
func (v *CounterVec) With(value string) *Counter {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.byVal[value]
	if !ok {
		c = &Counter{}
		v.byVal[value] = c
	}
	return c
}

type family struct {
	name    string
	help    string
	counter *Counter
	gauge   *Gauge
	vec     *CounterVec
}

// Registry owns named instruments and renders them for scraping.
type Registry struct {
	mu       sync.Mutex
	families []*family
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Counter registers and returns a new counter.
func (r *Registry) Counter(name, help string) *Counter {
	c := &Counter{}
	r.add(&family{name: name, help: help, counter: c})
	return c
}

// Gauge registers and returns a new gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	g := &Gauge{}
	r.add(&family{name: name, help: help, gauge: g})
	return g
}

// CounterVec registers and returns a counter family keyed by label.
func (r *Registry) CounterVec(name, help, label string) *CounterVec {
	v := &CounterVec{label: label, byVal: make(map[string]*Counter)}
	r.add(&family{name: name, help: help, vec: v})
	return v
}

func (r *Registry) add(f *family) {
	r.mu.Lock()
	r.families = append(r.families, f)
	r.mu.Unlock()
}

// Gather snapshots every registered instrument, sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	fams := append([]*family(nil), r.families...)
	r.mu.Unlock()

	out := make([]*dto.MetricFamily, 0, len(fams))
	for _, f := range fams {
		out = append(out, f.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func (f *family) snapshot() *dto.MetricFamily {
	mf := &dto.MetricFamily{Name: strPtr(f.name), Help: strPtr(f.help)}
	switch {
	case f.counter != nil:
		mf.Type = dto.MetricType_COUNTER.Enum()
		mf.Metric = []*dto.Metric{counterMetric(f.counter.Value())}
	case f.gauge != nil:
		mf.Type = dto.MetricType_GAUGE.Enum()
		v := float64(f.gauge.Value())
		mf.Metric = []*dto.Metric{{Gauge: &dto.Gauge{Value: &v}}}
	case f.vec != nil:
		mf.Type = dto.MetricType_COUNTER.Enum()
		f.vec.mu.Lock()
		values := make([]string, 0, len(f.vec.byVal))
		for val := range f.vec.byVal {
			values = append(values, val)
		}
		sort.Strings(values)
		for _, val := range values {
			m := counterMetric(f.vec.byVal[val].Value())
			m.Label = []*dto.LabelPair{{Name: strPtr(f.vec.label), Value: strPtr(val)}}
			mf.Metric = append(mf.Metric, m)
		}
		f.vec.mu.Unlock()
	}
	return mf
}

func counterMetric(n int64) *dto.Metric {
	v := float64(n)
	return &dto.Metric{Counter: &dto.Counter{Value: &v}}
}

func strPtr(s string) *string { return &s }

// ServeHTTP writes all instruments in the text exposition format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range r.Gather() {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return
		}
	}
}
