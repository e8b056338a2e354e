package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelr/devicesync/internal/database"
	"github.com/sentinelr/devicesync/internal/model"
)

type DeviceRepository interface {
	Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error)
	FindByID(ctx context.Context, id string) (*model.Device, error)
	FindByFamily(ctx context.Context, familyID, id string) (*model.Device, error)
	List(ctx context.Context, familyID string, filters model.DeviceFilters) ([]model.Device, error)
	UpdatePairStatus(ctx context.Context, familyID, id string, status model.PairStatus) (*model.Device, error)
	Update(ctx context.Context, familyID, id string, params model.UpdateDeviceParams) (*model.Device, error)
	TouchSeen(ctx context.Context, id string, at time.Time) error
	RecordHeartbeat(ctx context.Context, id string, hb model.HeartbeatPayload, at time.Time) error
	MarkOffline(ctx context.Context, seenBefore time.Time) ([]model.Device, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) DeviceRepository
}

type deviceRepo struct {
	db database.DBTX
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) WithTx(tx *sqlx.Tx) DeviceRepository {
	return &deviceRepo{db: tx}
}

func (r *deviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		INSERT INTO devices (id, family_id, name, type, platform, pair_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, params.FamilyID, params.Name, params.Type, params.Platform, model.PairStatusPaired)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `SELECT * FROM devices WHERE id = $1`, id)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) FindByFamily(ctx context.Context, familyID, id string) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		SELECT * FROM devices WHERE id = $1 AND family_id = $2 AND pair_status <> $3
	`, id, familyID, model.PairStatusRemoved)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) List(ctx context.Context, familyID string, filters model.DeviceFilters) ([]model.Device, error) {
	where := []string{"family_id = $1", "pair_status <> $2"}
	args := []any{familyID, model.PairStatusRemoved}

	if filters.Status != nil {
		args = append(args, *filters.Status)
		where = append(where, fmt.Sprintf("pair_status = $%d", len(args)))
	}
	if filters.UserID != "" {
		args = append(args, filters.UserID)
		where = append(where, fmt.Sprintf("assigned_user_id = $%d", len(args)))
	}

	devices := []model.Device{}
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM devices
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC
	`, args...)
	return devices, err
}

func (r *deviceRepo) UpdatePairStatus(ctx context.Context, familyID, id string, status model.PairStatus) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		UPDATE devices SET
			pair_status = $3,
			online = CASE WHEN $3 = 'paired' THEN online ELSE FALSE END,
			updated_at = NOW()
		WHERE id = $1 AND family_id = $2 AND pair_status <> 'removed'
		RETURNING *
	`, id, familyID, status)
	return HandleNotFound(&d, err)
}

func (r *deviceRepo) Update(ctx context.Context, familyID, id string, params model.UpdateDeviceParams) (*model.Device, error) {
	var d model.Device
	err := r.db.GetContext(ctx, &d, `
		UPDATE devices SET
			name = COALESCE($3, name),
			assigned_user_id = CASE WHEN $4::text IS NULL THEN assigned_user_id ELSE NULLIF($4, '') END,
			updated_at = NOW()
		WHERE id = $1 AND family_id = $2 AND pair_status <> 'removed'
		RETURNING *
	`, id, familyID, params.Name, params.AssignedUserID)
	return HandleNotFound(&d, err)
}

// TouchSeen advances last_seen_at to at. Ping timestamps come from the
// device clock and may belong to a retried batch, so the column never moves
// backwards.
func (r *deviceRepo) TouchSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			last_seen_at = GREATEST(COALESCE(last_seen_at, $2), $2),
			online = TRUE,
			updated_at = NOW()
		WHERE id = $1
	`, id, at)
	return err
}

func (r *deviceRepo) RecordHeartbeat(ctx context.Context, id string, hb model.HeartbeatPayload, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			last_seen_at = $2,
			online = TRUE,
			battery_level = $3,
			is_charging = $4,
			os_version = NULLIF($5, ''),
			app_version = NULLIF($6, ''),
			updated_at = NOW()
		WHERE id = $1
	`, id, at, hb.BatteryLevel, hb.IsCharging, hb.OSVersion, hb.AppVersion)
	return err
}

func (r *deviceRepo) MarkOffline(ctx context.Context, seenBefore time.Time) ([]model.Device, error) {
	devices := []model.Device{}
	err := r.db.SelectContext(ctx, &devices, `
		UPDATE devices SET online = FALSE, updated_at = NOW()
		WHERE online AND (last_seen_at IS NULL OR last_seen_at < $1)
		RETURNING *
	`, seenBefore)
	return devices, err
}
