package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"golang.org/x/sync/errgroup"
)

// ChangeSource is where the poller claims change records from.
type ChangeSource interface {
	Claim(ctx context.Context, owner string, limit int, lease time.Duration) ([]models.ChangeRecord, error)
	MarkProcessed(ctx context.Context, ids []uint64) error
	Release(ctx context.Context, owner string, ids []uint64) error
}

// pendingCounter is optionally implemented by a ChangeSource to report backlog.
type pendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// DeliveryRecorder receives the outcome of every (record, config) delivery.
type DeliveryRecorder interface {
	RecordAuto(ctx context.Context, configID string, op models.Operation, deliveryErr error)
}

type PollerState string

const (
	PollerIdle        PollerState = "IDLE"
	PollerScanning    PollerState = "SCANNING"
	PollerDispatching PollerState = "DISPATCHING"
	PollerMarking     PollerState = "MARKING"
	PollerStopped     PollerState = "STOPPED"
)

// TickSummary describes one poller cycle.
type TickSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Claimed   int           `json:"claimed"`
	Processed int           `json:"processed"`
	Released  int           `json:"released"`
	Delivered int           `json:"delivered"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
}

func (s *TickSummary) merge(o TickSummary) {
	s.Processed += o.Processed
	s.Released += o.Released
	s.Delivered += o.Delivered
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

type PollerOption func(*ChangePoller)

func WithBatchSize(n int) PollerOption {
	return func(p *ChangePoller) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) PollerOption {
	return func(p *ChangePoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClaimLease sets how long claimed records stay invisible to other
// pollers. It must outlast a full delivery with retries.
func WithClaimLease(d time.Duration) PollerOption {
	return func(p *ChangePoller) {
		if d > 0 {
			p.lease = d
		}
	}
}

// WithMaxConcurrency bounds how many tables are dispatched in parallel.
func WithMaxConcurrency(n int) PollerOption {
	return func(p *ChangePoller) {
		if n > 0 {
			p.maxConcurrency = n
		}
	}
}

func WithPublisher(pub EventPublisher) PollerOption {
	return func(p *ChangePoller) {
		if pub != nil {
			p.publisher = pub
		}
	}
}

func WithOwner(owner string) PollerOption {
	return func(p *ChangePoller) {
		if owner != "" {
			p.owner = owner
		}
	}
}

// ChangePoller claims change records on a fixed interval and delivers each
// one to the matching sync configs. Records are marked processed only after
// every matching delivery succeeded or ran out of retries.
type ChangePoller struct {
	source    ChangeSource
	registry  *SyncConfigRegistry
	deliverer Deliverer
	recorder  DeliveryRecorder
	publisher EventPublisher

	owner          string
	interval       time.Duration
	batchSize      int
	lease          time.Duration
	maxConcurrency int

	tickMu sync.Mutex

	mu       sync.RWMutex
	state    PollerState
	lastTick TickSummary
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewChangePoller(source ChangeSource, registry *SyncConfigRegistry, deliverer Deliverer, recorder DeliveryRecorder, opts ...PollerOption) *ChangePoller {
	p := &ChangePoller{
		source:         source,
		registry:       registry,
		deliverer:      deliverer,
		recorder:       recorder,
		publisher:      nopPublisher{},
		owner:          "poller-" + uuid.NewString(),
		interval:       time.Second,
		batchSize:      100,
		lease:          5 * time.Minute,
		maxConcurrency: 4,
		state:          PollerIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ChangePoller) State() PollerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *ChangePoller) LastTick() TickSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastTick
}

func (p *ChangePoller) setState(s PollerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Start runs the poll loop until Stop or ctx cancellation.
func (p *ChangePoller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = PollerIdle
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		utils.InfoLogger.WithField("owner", p.owner).Printf("Change poller started, interval %s", p.interval)
		for {
			select {
			case <-ctx.Done():
				p.setState(PollerStopped)
				utils.InfoLogger.Println("Change poller stopped")
				return
			case <-ticker.C:
				p.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish its
// started deliveries.
func (p *ChangePoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick runs one claim, dispatch and mark cycle. Cancelling ctx stops new
// records from being started; those are released for the next run.
func (p *ChangePoller) Tick(ctx context.Context) (summary TickSummary, err error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	summary = TickSummary{StartedAt: time.Now().UTC()}
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		p.mu.Lock()
		p.lastTick = summary
		if p.state != PollerStopped {
			p.state = PollerIdle
		}
		p.mu.Unlock()
	}()

	p.setState(PollerScanning)
	records, err := p.source.Claim(ctx, p.owner, p.batchSize, p.lease)
	if err != nil {
		pollerTicksMetric.WithLabelValues(resultFailed).Inc()
		summary.Error = err.Error()
		utils.ErrorLogger.Errorf("Error claiming change records: %v", err)
		return summary, err
	}
	summary.Claimed = len(records)
	claimedRecordsMetric.Add(float64(len(records)))
	if len(records) == 0 {
		pollerTicksMetric.WithLabelValues(resultSuccess).Inc()
		return summary, nil
	}

	// deliveries and marking outlive a shutdown request; ctx only gates
	// whether the next record is started
	work := context.WithoutCancel(ctx)

	p.setState(PollerDispatching)
	groups := lo.GroupBy(records, func(r models.ChangeRecord) string { return r.TableName })
	tables := lo.Uniq(lo.Map(records, func(r models.ChangeRecord, _ int) string { return r.TableName }))

	var (
		mu        sync.Mutex
		processed []uint64
		released  []uint64
	)
	g := new(errgroup.Group)
	g.SetLimit(p.maxConcurrency)
	for _, table := range tables {
		recs := groups[table]
		g.Go(func() error {
			done, rest, part := p.dispatchGroup(ctx, work, table, recs)
			mu.Lock()
			processed = append(processed, done...)
			released = append(released, rest...)
			summary.merge(part)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.setState(PollerMarking)
	if err := p.source.MarkProcessed(work, processed); err != nil {
		// the claim lease runs out and the records are delivered again
		pollerTicksMetric.WithLabelValues(resultFailed).Inc()
		summary.Error = err.Error()
		utils.ErrorLogger.Errorf("Error marking %d change records processed: %v", len(processed), err)
		return summary, err
	}
	summary.Processed = len(processed)

	if len(released) > 0 {
		if err := p.source.Release(work, p.owner, released); err != nil {
			utils.ErrorLogger.Errorf("Error releasing %d change records: %v", len(released), err)
		}
		summary.Released = len(released)
	}

	if counter, ok := p.source.(pendingCounter); ok {
		if n, err := counter.CountPending(work); err == nil {
			backlogMetric.Set(float64(n))
		}
	}

	pollerTicksMetric.WithLabelValues(resultSuccess).Inc()
	utils.InfoLogger.WithFields(logrus.Fields{
		"claimed":   summary.Claimed,
		"processed": summary.Processed,
		"released":  summary.Released,
		"delivered": summary.Delivered,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}).Println("Processed change records")
	p.publisher.Publish(EventPollerTick, summary)
	return summary, nil
}

// dispatchGroup delivers the records of one table in id order. It returns
// the ids it finished and the ids it never started.
func (p *ChangePoller) dispatchGroup(ctx, work context.Context, table string, records []models.ChangeRecord) (done, notStarted []uint64, summary TickSummary) {
	configs := p.registry.ListActiveFor(table)

	for i, rec := range records {
		if ctx.Err() != nil {
			for _, r := range records[i:] {
				notStarted = append(notStarted, r.ID)
			}
			return done, notStarted, summary
		}
		if len(configs) > 0 {
			summary.merge(p.dispatchRecord(work, rec, configs))
		}
		done = append(done, rec.ID)
	}
	return done, notStarted, summary
}

// DeliveryEvent is published for every attempted (record, config) delivery.
type DeliveryEvent struct {
	ConfigID   string           `json:"config_id"`
	Table      string           `json:"table"`
	RecordID   uint64           `json:"record_id"`
	RecordKey  string           `json:"record_key"`
	Operation  models.Operation `json:"operation"`
	WorkflowID string           `json:"workflow_id"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	ExecuteID  string           `json:"execute_id,omitempty"`
}

func (p *ChangePoller) dispatchRecord(ctx context.Context, rec models.ChangeRecord, configs []models.SyncConfig) TickSummary {
	var summary TickSummary
	log := utils.InfoLogger.WithFields(logrus.Fields{
		"table":     rec.TableName,
		"record_id": rec.ID,
		"operation": rec.Operation,
	})

	for _, cfg := range configs {
		if !cfg.Matches(rec) {
			continue
		}
		workflowID := cfg.WorkflowFor(rec.Operation)
		if workflowID == "" {
			summary.Skipped++
			deliveriesMetric.WithLabelValues(rec.TableName, string(rec.Operation), resultSkipped).Inc()
			continue
		}
		// removed or paused since the group started
		if !p.registry.IsActive(cfg.ID) {
			continue
		}

		params, warnings := Project(rec.Payload, cfg.SelectedFields)
		for _, w := range warnings {
			utils.ErrorLogger.WithFields(logrus.Fields{"config_id": cfg.ID, "record_id": rec.ID}).Warn(w.Error())
		}

		ack, err := p.deliverer.Deliver(ctx, workflowID, params)
		if p.recorder != nil {
			p.recorder.RecordAuto(ctx, cfg.ID, rec.Operation, err)
		}

		event := DeliveryEvent{
			ConfigID:   cfg.ID,
			Table:      rec.TableName,
			RecordID:   rec.ID,
			RecordKey:  rec.RecordKey,
			Operation:  rec.Operation,
			WorkflowID: workflowID,
			Success:    err == nil,
			ExecuteID:  ack.ExecuteID,
		}
		if err != nil {
			summary.Failed++
			event.Error = err.Error()
			deliveriesMetric.WithLabelValues(rec.TableName, string(rec.Operation), resultFailed).Inc()
			utils.ErrorLogger.WithFields(logrus.Fields{
				"config_id":   cfg.ID,
				"record_id":   rec.ID,
				"workflow_id": workflowID,
			}).Errorf("Delivery failed: %v", err)
		} else {
			summary.Delivered++
			deliveriesMetric.WithLabelValues(rec.TableName, string(rec.Operation), resultSuccess).Inc()
			log.WithField("config_id", cfg.ID).Debugf("Delivered to workflow %s", workflowID)
		}
		p.publisher.Publish(EventDelivery, event)
	}
	return summary
}
