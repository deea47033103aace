package models

import (
	"time"

	"github.com/google/uuid"
)

// ListingRef is one source listing read from the sheet.
type ListingRef struct {
	Row int    `json:"row"`
	URL string `json:"url"`
}

type ImagePriority int

const (
	ImagePriorityPlain ImagePriority = iota
	ImagePriorityActive
)

func (p ImagePriority) String() string {
	if p == ImagePriorityActive {
		return "active"
	}
	return "plain"
}

type ImageCandidate struct {
	URL      string        `json:"url"`
	Priority ImagePriority `json:"priority"`
}

// Stage names the pipeline step a row reached.
type Stage string

const (
	StageImage      Stage = "image"
	StageSearch     Stage = "search"
	StageIdentifier Stage = "identifier"
	StageCode       Stage = "code"
	StageDone       Stage = "done"
)

// CodeRecord is the outcome of one row. Unresolved fields stay empty.
type CodeRecord struct {
	RunID      uuid.UUID `json:"run_id"`
	Row        int       `json:"row"`
	SourceURL  string    `json:"source_url"`
	JAN        string    `json:"jan"`
	Identifier string    `json:"identifier"`
	ImageURL   string    `json:"image_url"`
	TargetURL  string    `json:"target_url"`
	LookupURL  string    `json:"lookup_url,omitempty"`
	Stage      Stage     `json:"stage"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Values returns the cells written back to the sheet, in column order.
func (r *CodeRecord) Values() []string {
	return []string{r.JAN, r.Identifier, r.ImageURL, r.TargetURL}
}

func (r *CodeRecord) Resolved() bool {
	return r.Stage == StageDone && r.JAN != ""
}

type Run struct {
	ID         uuid.UUID `json:"id"`
	Strategy   string    `json:"strategy"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       int       `json:"rows"`
	Resolved   int       `json:"resolved"`
	Degraded   int       `json:"degraded"`
	WriteFails int       `json:"write_failures"`
}

func NewRun(strategy string) *Run {
	return &Run{
		ID:        uuid.New(),
		Strategy:  strategy,
		StartedAt: time.Now(),
	}
}

// Add folds a finished row into the run totals.
func (r *Run) Add(rec *CodeRecord) {
	r.Rows++
	if rec.Resolved() {
		r.Resolved++
	} else {
		r.Degraded++
	}
}
