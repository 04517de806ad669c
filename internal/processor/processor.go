package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/corpusd/internal/conversation"
	"github.com/MikeSquared-Agency/corpusd/internal/converter"
	"github.com/MikeSquared-Agency/corpusd/internal/hermes"
	"github.com/MikeSquared-Agency/corpusd/internal/metrics"
)

// Scan triggers recorded on events and logs.
const (
	TriggerHTTP   = "http"
	TriggerSocket = "socket"
	TriggerNATS   = "nats"
	TriggerCLI    = "cli"
)

// Scanner produces a corpus from the configured root.
type Scanner interface {
	Scan(ctx context.Context) (*conversation.Corpus, error)
	Root() string
}

// SnapshotStore persists successful scans.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, scanID uuid.UUID, root string, corpus *conversation.Corpus) error
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor orchestrates corpus scans: it runs the scanner, records metrics,
// persists snapshots and announces the outcome. Store and publisher are
// optional; pass nil to disable them.
type Processor struct {
	scanner   Scanner
	store     SnapshotStore
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func New(scanner Scanner, st SnapshotStore, pub Publisher, m *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		scanner:   scanner,
		store:     st,
		publisher: pub,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Root returns the directory scans run over.
func (p *Processor) Root() string {
	return p.scanner.Root()
}

// Scan runs one full scan. Each call owns its own accumulator, so scans
// requested concurrently from different transports do not interfere.
func (p *Processor) Scan(ctx context.Context, trigger string) (*conversation.Corpus, error) {
	scanID := uuid.New()
	start := p.now()
	logger := p.logger.With("scan_id", scanID, "trigger", trigger)

	corpus, err := p.scanner.Scan(ctx)
	duration := p.now().Sub(start)

	if err != nil {
		p.metrics.ObserveScan(resultLabel(err), duration)
		logger.Error("scan failed", "duration", duration, "error", err)
		p.publishFailure(scanID, trigger, err)
		return nil, err
	}

	inbound := len(corpus.Classifications.Inbound)
	outbound := len(corpus.Classifications.Outbound)
	p.metrics.ObserveScan("success", duration)
	p.metrics.SetCorpusSize(len(corpus.Conversations), inbound, outbound, len(corpus.Slots))

	logger.Info("scan completed",
		"conversations", len(corpus.Conversations),
		"inbound", inbound,
		"outbound", outbound,
		"slots", len(corpus.Slots),
		"duration", duration,
	)

	if p.store != nil {
		if err := p.store.SaveSnapshot(ctx, scanID, p.scanner.Root(), corpus); err != nil {
			// The corpus is still served; persistence is best effort.
			logger.Error("failed to save snapshot", "error", err)
		}
	}

	p.publish(hermes.SubjectScanCompleted, hermes.ScanCompleted{
		ScanID:        scanID.String(),
		Trigger:       trigger,
		Root:          p.scanner.Root(),
		Conversations: len(corpus.Conversations),
		Inbound:       inbound,
		Outbound:      outbound,
		Slots:         len(corpus.Slots),
		DurationMS:    duration.Milliseconds(),
		Timestamp:     p.now().UTC(),
	})

	return corpus, nil
}

// HandleScanRequested is the NATS handler for corpus.scan.requested.
func (p *Processor) HandleScanRequested(subject string, data []byte) {
	var req hermes.ScanRequested
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			p.logger.Warn("failed to parse scan request", "subject", subject, "error", err)
			return
		}
	}

	trigger := TriggerNATS
	if req.Trigger != "" {
		trigger = req.Trigger
	}

	// The outcome is logged and published by Scan.
	_, _ = p.Scan(context.Background(), trigger)
}

// NotifyFileChanged announces a change under the corpus root.
func (p *Processor) NotifyFileChanged(path string) {
	p.publish(hermes.SubjectFileChanged, hermes.FileChanged{
		Path:      path,
		Timestamp: p.now().UTC(),
	})
}

func (p *Processor) publishFailure(scanID uuid.UUID, trigger string, err error) {
	resp := converter.ResponseFor(err)
	p.publish(hermes.SubjectScanFailed, hermes.ScanFailed{
		ScanID:    scanID.String(),
		Trigger:   trigger,
		Status:    resp.Status,
		Error:     string(resp.Error),
		Detail:    resp.Detail,
		Timestamp: p.now().UTC(),
	})
}

func (p *Processor) publish(subject string, event any) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(subject, event); err != nil {
		p.logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}

func resultLabel(err error) string {
	var convErr *converter.Error
	if errors.As(err, &convErr) {
		return string(convErr.Kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}
