package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/gl"
	"stockledger/internal/domain/repost"
)

// JobRepo implements repost.JobRepository.
type JobRepo struct {
	store *Store
}

// NewJobRepo creates a repost job repository over store.
func NewJobRepo(store *Store) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, job *entity.RepostJob) error {
	defer r.store.lock(ctx)()

	cp := *job
	r.store.data.jobs[job.ID] = &cp
	return nil
}

func (r *JobRepo) Get(ctx context.Context, jobID id.ID) (*entity.RepostJob, error) {
	defer r.store.rlock(ctx)()

	job, ok := r.store.data.jobs[jobID]
	if !ok {
		return nil, apperror.NewNotFound("repost job", jobID.String())
	}
	cp := *job
	return &cp, nil
}

func (r *JobRepo) Update(ctx context.Context, job *entity.RepostJob) error {
	defer r.store.lock(ctx)()

	if _, ok := r.store.data.jobs[job.ID]; !ok {
		return apperror.NewNotFound("repost job", job.ID.String())
	}
	cp := *job
	r.store.data.jobs[job.ID] = &cp
	return nil
}

func (r *JobRepo) ListByStatus(ctx context.Context, status entity.RepostStatus, limit int) ([]entity.RepostJob, error) {
	defer r.store.rlock(ctx)()

	var out []entity.RepostJob
	for _, job := range r.store.data.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) ListOpen(ctx context.Context, key entity.LedgerKey) ([]entity.RepostJob, error) {
	defer r.store.rlock(ctx)()

	var out []entity.RepostJob
	for _, job := range r.store.data.jobs {
		if job.Status != entity.RepostDone && job.Key() == key {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TriggerAt.Equal(out[j].TriggerAt) {
			return out[i].TriggerAt.Before(out[j].TriggerAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Catalog implements catalog.Reader with mutable fixtures.
type Catalog struct {
	store *Store
}

// NewCatalog creates a catalog over store.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) PutItem(item entity.ItemSettings) {
	_ = c.UpsertItem(context.Background(), &item)
}

func (c *Catalog) PutWarehouse(wh entity.WarehouseSettings) {
	_ = c.UpsertWarehouse(context.Background(), &wh)
}

func (c *Catalog) PutCompany(company entity.CompanySettings) {
	_ = c.UpsertCompany(context.Background(), &company)
}

// UpsertCompany stores a company. It matches the postgres settings repository.
func (c *Catalog) UpsertCompany(ctx context.Context, company *entity.CompanySettings) error {
	defer c.store.lock(ctx)()
	cp := *company
	c.store.data.companies[cp.Name] = &cp
	return nil
}

func (c *Catalog) UpsertWarehouse(ctx context.Context, wh *entity.WarehouseSettings) error {
	defer c.store.lock(ctx)()
	cp := *wh
	c.store.data.warehouses[cp.Name] = &cp
	return nil
}

func (c *Catalog) UpsertItem(ctx context.Context, item *entity.ItemSettings) error {
	defer c.store.lock(ctx)()
	cp := *item
	c.store.data.items[cp.Code] = &cp
	return nil
}

func (c *Catalog) Item(ctx context.Context, code string) (*entity.ItemSettings, error) {
	defer c.store.rlock(ctx)()
	if v, ok := c.store.data.items[code]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, apperror.NewNotFound("item", code)
}

func (c *Catalog) Warehouse(ctx context.Context, name string) (*entity.WarehouseSettings, error) {
	defer c.store.rlock(ctx)()
	if v, ok := c.store.data.warehouses[name]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, apperror.NewNotFound("warehouse", name)
}

func (c *Catalog) Company(ctx context.Context, name string) (*entity.CompanySettings, error) {
	defer c.store.rlock(ctx)()
	if v, ok := c.store.data.companies[name]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, apperror.NewNotFound("company", name)
}

// Outbox implements gl.Publisher by appending to the store.
type Outbox struct {
	store *Store
}

// NewOutbox creates an outbox over store.
func NewOutbox(store *Store) *Outbox {
	return &Outbox{store: store}
}

func (o *Outbox) Publish(ctx context.Context, facts []entity.ValueChangeFact) error {
	defer o.store.lock(ctx)()
	o.store.data.facts = append(o.store.data.facts, facts...)
	return nil
}

// Facts returns every committed fact in publish order.
func (o *Outbox) Facts() []entity.ValueChangeFact {
	defer o.store.rlock(context.Background())()
	return append([]entity.ValueChangeFact(nil), o.store.data.facts...)
}

// AuditLog implements audit.Logger.
type AuditLog struct {
	store *Store
}

// NewAuditLog creates an audit log over store.
func NewAuditLog(store *Store) *AuditLog {
	return &AuditLog{store: store}
}

func (a *AuditLog) Record(ctx context.Context, rec audit.Record) error {
	var changes json.RawMessage
	if rec.Changes != nil {
		raw, err := json.Marshal(rec.Changes)
		if err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
		changes = raw
	}

	defer a.store.lock(ctx)()
	a.store.data.audit = append(a.store.data.audit, audit.Entry{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     rec.Action,
		Changes:    changes,
		RequestID:  appctx.RequestID(ctx),
		Actor:      appctx.Actor(ctx),
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

// Records returns every committed entry in write order.
func (a *AuditLog) Records() []audit.Entry {
	defer a.store.rlock(context.Background())()
	return append([]audit.Entry(nil), a.store.data.audit...)
}

func (a *AuditLog) History(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	defer a.store.rlock(ctx)()

	var out []audit.Entry
	for i := len(a.store.data.audit) - 1; i >= 0; i-- {
		e := a.store.data.audit[i]
		if e.EntityType != entityType || e.EntityID != entityID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ repost.JobRepository = (*JobRepo)(nil)
	_ catalog.Reader       = (*Catalog)(nil)
	_ gl.Publisher         = (*Outbox)(nil)
	_ audit.Logger         = (*AuditLog)(nil)
	_ audit.Reader         = (*AuditLog)(nil)
)
