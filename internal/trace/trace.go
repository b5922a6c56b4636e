// Package trace emits a Chrome-trace-format JSON recording of subgraph
// execution (spec.md §6, "Trace output"): one "stream" (thread id) per
// worker, a duration-event pair [begin_subgraph, end_subgraph] around each
// invocation, with the job record serialized into the event's args.
package trace

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/bandrt/bandrt/internal/bjob"
	"github.com/bandrt/bandrt/internal/modelspec"
)

// Phase is the Chrome Trace Event Format "ph" field.
type Phase string

const (
	PhaseBegin Phase = "B"
	PhaseEnd   Phase = "E"
)

// Event is one Chrome trace duration event.
type Event struct {
	Name  string         `json:"name"`
	Phase Phase          `json:"ph"`
	TsUs  int64          `json:"ts"`
	Pid   int            `json:"pid"`
	Tid   int32          `json:"tid"`
	Args  map[string]any `json:"args,omitempty"`
}

// Recorder accumulates events under a single lock. Recording is a no-op
// when disabled, so call sites never need their own feature-flag checks
// (spec.md §9, global tracer state gated behind a feature flag).
type Recorder struct {
	mu      sync.Mutex
	enabled bool
	events  []Event
}

// NewRecorder constructs a Recorder; enabled gates every record call.
func NewRecorder(enabled bool) *Recorder {
	return &Recorder{enabled: enabled}
}

// Enabled reports whether the recorder is actively collecting events.
func (r *Recorder) Enabled() bool { return r.enabled }

// BeginSubgraph records the start of job's execution of key.
func (r *Recorder) BeginSubgraph(key modelspec.SubgraphKey, job *bjob.Job, tsUs int64) {
	r.record(key, job, PhaseBegin, tsUs)
}

// EndSubgraph records the end of job's execution of key.
func (r *Recorder) EndSubgraph(key modelspec.SubgraphKey, job *bjob.Job, tsUs int64) {
	r.record(key, job, PhaseEnd, tsUs)
}

func (r *Recorder) record(key modelspec.SubgraphKey, job *bjob.Job, phase Phase, tsUs int64) {
	if !r.enabled {
		return
	}
	e := Event{
		Name:  key.String(),
		Phase: phase,
		TsUs:  tsUs,
		Pid:   1,
		Tid:   int32(key.WorkerID),
		Args: map[string]any{
			"job_id":   int64(job.JobID),
			"model_id": int32(job.ModelID),
			"status":   job.Status.String(),
		},
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// document is the top-level Chrome trace container.
type document struct {
	TraceEvents []Event `json:"traceEvents"`
}

// WriteFile serializes every recorded event to path as Chrome-trace JSON.
func (r *Recorder) WriteFile(path string) error {
	r.mu.Lock()
	events := append([]Event(nil), r.events...)
	r.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(document{TraceEvents: events})
}
