package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/jan-enricher/internal/database"
	"github.com/maltedev/jan-enricher/internal/models"
)

type EventType string

const (
	EventTypeJANResolved EventType = "JAN_RESOLVED"
	EventTypeRowDegraded EventType = "ROW_DEGRADED"
	EventTypeRunFinished EventType = "RUN_FINISHED"
)

const (
	aggregateTypeLookup = "jan_lookup"
	aggregateTypeRun    = "lookup_run"
)

// RowPayload describes one processed sheet row.
type RowPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Strategy   string    `json:"strategy"`
	Row        int       `json:"row"`
	SourceURL  string    `json:"source_url"`
	JAN        string    `json:"jan,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	TargetURL  string    `json:"target_url,omitempty"`
	LookupURL  string    `json:"lookup_url,omitempty"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error,omitempty"`
}

type RunPayload struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	RunID         string    `json:"run_id"`
	Strategy      string    `json:"strategy"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Rows          int       `json:"rows"`
	Resolved      int       `json:"resolved"`
	Degraded      int       `json:"degraded"`
	WriteFailures int       `json:"write_failures"`
}

// RowEvent builds the outbox event for a finished row. Resolved rows are
// keyed by identifier; degraded rows by run and row number.
func RowEvent(run *models.Run, rec *models.CodeRecord) (*database.OutboxEvent, error) {
	eventType := EventTypeRowDegraded
	aggregateID := fmt.Sprintf("%s:%d", run.ID, rec.Row)
	if rec.Resolved() {
		eventType = EventTypeJANResolved
		aggregateID = rec.Identifier
	}

	payload := RowPayload{
		EventID:    uuid.New().String(),
		EventType:  string(eventType),
		Timestamp:  time.Now(),
		RunID:      run.ID.String(),
		Strategy:   run.Strategy,
		Row:        rec.Row,
		SourceURL:  rec.SourceURL,
		JAN:        rec.JAN,
		Identifier: rec.Identifier,
		ImageURL:   rec.ImageURL,
		TargetURL:  rec.TargetURL,
		LookupURL:  rec.LookupURL,
		Stage:      string(rec.Stage),
		Error:      rec.Error,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateTypeLookup,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  database.StreamJANLookups,
	}, nil
}

func RunEvent(run *models.Run) (*database.OutboxEvent, error) {
	payload := RunPayload{
		EventID:       uuid.New().String(),
		EventType:     string(EventTypeRunFinished),
		Timestamp:     time.Now(),
		RunID:         run.ID.String(),
		Strategy:      run.Strategy,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Rows:          run.Rows,
		Resolved:      run.Resolved,
		Degraded:      run.Degraded,
		WriteFailures: run.WriteFails,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateTypeRun,
		AggregateID:   run.ID.String(),
		EventType:     string(EventTypeRunFinished),
		Payload:       data,
		TargetStream:  database.StreamJANLookups,
	}, nil
}

// Publisher journals runs and rows to Postgres and queues their events in
// the same transaction.
type Publisher struct {
	db      *database.DB
	lookups *database.LookupRepository
	outbox  *database.OutboxRepository
	logger  *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:      db,
		lookups: database.NewLookupRepository(db),
		outbox:  database.NewOutboxRepository(db),
		logger:  logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) StartRun(ctx context.Context, run *models.Run) error {
	return p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.lookups.InsertRunWithTx(ctx, tx, run)
	})
}

// Record stores rec and queues JAN_RESOLVED or ROW_DEGRADED.
func (p *Publisher) Record(ctx context.Context, run *models.Run, rec *models.CodeRecord) error {
	event, err := RowEvent(run, rec)
	if err != nil {
		return err
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.lookups.UpsertWithTx(ctx, tx, rec); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"event_type", event.EventType,
		"aggregate_id", event.AggregateID,
		"row", rec.Row)
	return nil
}

func (p *Publisher) FinishRun(ctx context.Context, run *models.Run) error {
	event, err := RunEvent(run)
	if err != nil {
		return err
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := p.lookups.FinishRunWithTx(ctx, tx, run); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("run journaled", "run_id", run.ID, "rows", run.Rows)
	return nil
}
