package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sentinelr/devicesync/internal/database"
	"github.com/sentinelr/devicesync/internal/model"
)

type PairingCodeRepository interface {
	FindByCode(ctx context.Context, code string) (*model.PairingCode, error)
	FindActiveByCode(ctx context.Context, code string) (*model.PairingCode, error)
	CountActiveByFamily(ctx context.Context, familyID string) (int, error)
	Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	// MarkUsed redeems an active code. It reports false when the code was
	// already used or has expired, so a code is redeemed at most once.
	MarkUsed(ctx context.Context, code, deviceID string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) PairingCodeRepository
}

type pairingCodeRepo struct {
	db database.DBTX
}

func NewPairingCodeRepository(db *sqlx.DB) PairingCodeRepository {
	return &pairingCodeRepo{db: db}
}

func (r *pairingCodeRepo) WithTx(tx *sqlx.Tx) PairingCodeRepository {
	return &pairingCodeRepo{db: tx}
}

func (r *pairingCodeRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `SELECT * FROM pairing_codes WHERE code = $1`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindActiveByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE code = $1 AND used_at IS NULL AND expires_at > NOW()
	`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) CountActiveByFamily(ctx context.Context, familyID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM pairing_codes
		WHERE family_id = $1 AND used_at IS NULL AND expires_at > NOW()
	`, familyID)
	return count, err
}

func (r *pairingCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		INSERT INTO pairing_codes (code, family_id, device_name, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.Code, params.FamilyID, params.DeviceName, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func (r *pairingCodeRepo) MarkUsed(ctx context.Context, code, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET
			used_at = NOW(),
			device_id = $2
		WHERE code = $1 AND used_at IS NULL AND expires_at > NOW()
	`, code, deviceID)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

func (r *pairingCodeRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
