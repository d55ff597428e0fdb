package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/audit"
)

const (
	codecNone = "none"
	codecZstd = "zstd"

	// DefaultAuditCompressAbove is the change-set size above which sys_audit
	// stores the payload zstd-compressed. Repost change lists reach it.
	DefaultAuditCompressAbove = 10 << 10
)

type auditRow struct {
	ID         id.ID           `db:"id"`
	EntityType string          `db:"entity_type"`
	EntityID   string          `db:"entity_id"`
	Action     audit.Action    `db:"action"`
	Changes    json.RawMessage `db:"changes"`
	Packed     []byte          `db:"changes_compressed"`
	Codec      string          `db:"compression_algo"`
	RequestID  string          `db:"request_id"`
	Actor      string          `db:"actor"`
	CreatedAt  time.Time       `db:"created_at"`
}

var auditColumns = Columns[auditRow]()

// AuditLog is the sys_audit sink. Records join the caller's transaction, so a
// rolled back repost leaves no history behind.
type AuditLog struct {
	txm           *TxManager
	builder       squirrel.StatementBuilderType
	enc           *zstd.Encoder
	dec           *zstd.Decoder
	compressAbove int
}

func NewAuditLog(txm *TxManager) (*AuditLog, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &AuditLog{
		txm:           txm,
		builder:       squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		enc:           enc,
		dec:           dec,
		compressAbove: DefaultAuditCompressAbove,
	}, nil
}

// Record stamps rec with the request id and actor of ctx and stores it.
func (s *AuditLog) Record(ctx context.Context, rec audit.Record) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	row := auditRow{
		ID:         id.New(),
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Action:     rec.Action,
		Changes:    changes,
		Codec:      codecNone,
		RequestID:  appctx.RequestID(ctx),
		Actor:      appctx.Actor(ctx),
		CreatedAt:  time.Now().UTC(),
	}
	if len(changes) > s.compressAbove {
		row.Packed = s.enc.EncodeAll(changes, nil)
		row.Changes = nil
		row.Codec = codecZstd
	}

	sql, args, err := s.builder.Insert("sys_audit").SetMap(RowMap(row)).ToSql()
	if err != nil {
		return err
	}
	_, err = s.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	return err
}

func (s *AuditLog) History(ctx context.Context, entityType, entityID string, limit int) ([]audit.Entry, error) {
	sql, args, err := s.builder.
		Select(auditColumns...).
		From("sys_audit").
		Where(squirrel.Eq{"entity_type": entityType, "entity_id": entityID}).
		OrderBy("created_at DESC").
		Limit(uint64(max(limit, 1))).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []auditRow
	if err := pgxscan.Select(ctx, s.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}

	out := make([]audit.Entry, len(rows))
	for i, r := range rows {
		changes := r.Changes
		if r.Codec == codecZstd && len(r.Packed) > 0 {
			if changes, err = s.dec.DecodeAll(r.Packed, nil); err != nil {
				return nil, fmt.Errorf("inflate audit %s: %w", r.ID, err)
			}
		}
		out[i] = audit.Entry{
			EntityType: r.EntityType,
			EntityID:   r.EntityID,
			Action:     r.Action,
			Changes:    changes,
			RequestID:  r.RequestID,
			Actor:      r.Actor,
			CreatedAt:  r.CreatedAt,
		}
	}
	return out, nil
}

var (
	_ audit.Logger = (*AuditLog)(nil)
	_ audit.Reader = (*AuditLog)(nil)
)
