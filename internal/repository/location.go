package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sentinelr/devicesync/internal/database"
	"github.com/sentinelr/devicesync/internal/model"
)

type LocationRepository interface {
	InsertBatch(ctx context.Context, deviceID string, pings []model.LocationPing, receivedAt time.Time) (int, error)
	Live(ctx context.Context, familyID string, query model.LiveLocationQuery) ([]model.LocationEntry, error)
	PruneOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type locationRepo struct {
	db database.DBTX
}

func NewLocationRepository(db *sqlx.DB) LocationRepository {
	return &locationRepo{db: db}
}

func (r *locationRepo) InsertBatch(ctx context.Context, deviceID string, pings []model.LocationPing, receivedAt time.Time) (int, error) {
	if len(pings) == 0 {
		return 0, nil
	}

	rows := make([]model.StoredLocationPing, len(pings))
	for i, p := range pings {
		rows[i] = model.StoredLocationPing{
			ID:         uuid.NewString(),
			DeviceID:   deviceID,
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			Accuracy:   p.Accuracy,
			Altitude:   p.Altitude,
			Speed:      p.Speed,
			Source:     p.Source,
			RecordedAt: p.Timestamp,
			ReceivedAt: receivedAt,
		}
	}

	result, err := r.db.NamedExecContext(ctx, `
		INSERT INTO location_pings
			(id, device_id, latitude, longitude, accuracy, altitude, speed, source, recorded_at, received_at)
		VALUES
			(:id, :device_id, :latitude, :longitude, :accuracy, :altitude, :speed, :source, :recorded_at, :received_at)
	`, rows)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Live returns the newest ping of every visible device in the family.
func (r *locationRepo) Live(ctx context.Context, familyID string, query model.LiveLocationQuery) ([]model.LocationEntry, error) {
	where := []string{"d.family_id = $1", "d.pair_status <> 'removed'"}
	args := []any{familyID}

	if query.DeviceID != "" {
		args = append(args, query.DeviceID)
		where = append(where, fmt.Sprintf("d.id = $%d", len(args)))
	}
	if query.UserID != "" {
		args = append(args, query.UserID)
		where = append(where, fmt.Sprintf("d.assigned_user_id = $%d", len(args)))
	}

	entries := []model.LocationEntry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT DISTINCT ON (p.device_id)
			p.device_id,
			d.name AS device_name,
			d.assigned_user_id,
			p.latitude,
			p.longitude,
			p.accuracy,
			d.battery_level,
			p.recorded_at
		FROM location_pings p
		JOIN devices d ON d.id = p.device_id
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY p.device_id, p.recorded_at DESC
	`, args...)
	return entries, err
}

func (r *locationRepo) PruneOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM location_pings WHERE recorded_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
