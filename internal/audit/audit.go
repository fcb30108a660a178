// Package audit accumulates structured audit events for one extraction run.
// Events are append-only for the lifetime of the run and are flushed exactly
// once, as NDJSON, when the run ends — on success and on failure alike. The
// Recorder is an explicit dependency handed to every component; there is no
// process-global event list.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scope is the namespace stamped on every audit event.
const Scope = "com.oncolens.data.integrations.audit"

// Source identifies this process as the origin of its audit events.
const Source = "ehr-connector/fhirbridge"

// Status tags an audit event with its machine-readable outcome.
type Status string

const (
	StatusStarted          Status = "started"
	StatusCompleted        Status = "completed"
	StatusErrored          Status = "errored"
	StatusException        Status = "exception_occurred"
	StatusValidationFailed Status = "validation_failed"
)

// statusMessages maps each status to its fixed short message.
var statusMessages = map[Status]string{
	StatusStarted:          "Process started",
	StatusCompleted:        "Process completed",
	StatusErrored:          "Process errored",
	StatusException:        "Exception occurred",
	StatusValidationFailed: "Validation Error occurred",
}

// Event is one immutable audit record. All events in a run share the same
// processuuid, which is what downstream monitoring groups on.
type Event struct {
	ID                  string `json:"id"`
	ProcessUUID         string `json:"processuuid"`
	Message             string `json:"message"`
	UserFriendlyMessage string `json:"userfriendlymessage"`
	Status              string `json:"status"`
	Source              string `json:"source"`
	Customer            string `json:"customer"`
	SiteID              string `json:"siteid"`
	OriginFile          string `json:"originfile"`
	Workflow            string `json:"workflow"`
	Subject             string `json:"subject"`
	Time                string `json:"time"`
	Scope               string `json:"scope"`
}

// Recorder collects audit events for a single run. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	runID  string
	events []Event
	logger zerolog.Logger

	// Run context, set once configuration is loaded. Events recorded before
	// that carry empty values, matching a failure before config load.
	customer   string
	siteID     string
	workflow   string
	originFile string
}

// NewRecorder returns a Recorder for the run identified by runID.
func NewRecorder(runID string, logger zerolog.Logger) *Recorder {
	return &Recorder{runID: runID, logger: logger}
}

// RunID returns the process UUID shared by all events in this run.
func (r *Recorder) RunID() string {
	return r.runID
}

// SetContext attaches customer/site/workflow identity to all subsequently
// recorded events.
func (r *Recorder) SetContext(customer, siteID, workflow, originFile string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customer = customer
	r.siteID = siteID
	r.workflow = workflow
	r.originFile = originFile
}

// Record appends one event. subject names the context ("main process",
// "Patient:mrn|123", a search URL); detail is the long human-readable text.
func (r *Recorder) Record(status Status, subject, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := Event{
		ID:                  uuid.New().String(),
		ProcessUUID:         r.runID,
		Message:             statusMessages[status],
		UserFriendlyMessage: detail,
		Status:              string(status),
		Source:              Source,
		Customer:            r.customer,
		SiteID:              r.siteID,
		OriginFile:          r.originFile,
		Workflow:            r.workflow,
		Subject:             subject,
		Time:                time.Now().UTC().Format(time.RFC3339),
		Scope:               Scope,
	}
	r.events = append(r.events, ev)
	r.logger.Debug().Str("status", string(status)).Str("subject", subject).Msg("audit event recorded")
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]Event, len(r.events))
	copy(cp, r.events)
	return cp
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// NDJSON serialises the recorded events, one JSON object per line.
func (r *Recorder) NDJSON() ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range r.Events() {
		b, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal audit event %s: %w", ev.ID, err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Trace renders an error together with the current stack for inclusion in an
// event's detail text.
func Trace(err error) string {
	return fmt.Sprintf("%v\n%s", err, debug.Stack())
}
