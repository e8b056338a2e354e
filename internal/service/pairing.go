package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/sentinelr/devicesync/internal/config"
	"github.com/sentinelr/devicesync/internal/database"
	"github.com/sentinelr/devicesync/internal/audit"
	apperrors "github.com/sentinelr/devicesync/internal/errors"
	"github.com/sentinelr/devicesync/internal/events"
	"github.com/sentinelr/devicesync/internal/metrics"
	"github.com/sentinelr/devicesync/internal/model"
	"github.com/sentinelr/devicesync/internal/pairing"
	"github.com/sentinelr/devicesync/internal/repository"
)

const defaultDeviceType = "phone"

// TxRunner is satisfied by *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type PairingService struct {
	db         TxRunner
	codeRepo   repository.PairingCodeRepository
	deviceRepo repository.DeviceRepository
	tokens     *TokenService
	publisher  events.Publisher
	window     time.Duration
	generate   func() (string, error)
	now        func() time.Time
}

func NewPairingService(
	db TxRunner,
	codeRepo repository.PairingCodeRepository,
	deviceRepo repository.DeviceRepository,
	tokens *TokenService,
	publisher events.Publisher,
	window time.Duration,
) *PairingService {
	if window <= 0 {
		window = pairing.DefaultWindow
	}
	return &PairingService{
		db:         db,
		codeRepo:   codeRepo,
		deviceRepo: deviceRepo,
		tokens:     tokens,
		publisher:  publisher,
		window:     window,
		generate:   pairing.GenerateCode,
		now:        time.Now,
	}
}

// windowFor clamps a requested window into the supported range.
func (s *PairingService) windowFor(seconds int) time.Duration {
	if seconds <= 0 {
		return s.window
	}
	return min(max(time.Duration(seconds)*time.Second, config.MinPairingWindow), config.MaxPairingWindow)
}

func (s *PairingService) CreateCode(ctx context.Context, familyID string, req model.CreatePairingCodeRequest) (*model.CreatePairingCodeResult, error) {
	activeCount, err := s.codeRepo.CountActiveByFamily(ctx, familyID)
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("count active codes: %w", err))
	}
	if activeCount >= config.MaxActiveCodesPerFamily {
		return nil, apperrors.RateLimitExceeded().WithDetails(map[string]int{
			"maxActiveCodes": config.MaxActiveCodesPerFamily,
		})
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	var deviceName *string
	if req.DeviceName != "" {
		deviceName = &req.DeviceName
	}

	pc, err := s.codeRepo.Create(ctx, model.CreatePairingCodeParams{
		Code:       code,
		FamilyID:   familyID,
		DeviceName: deviceName,
		ExpiresAt:  s.now().Add(s.windowFor(req.WindowSeconds)),
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("create pairing code: %w", err))
	}

	metrics.PairingOutcomes.WithLabelValues("issued").Inc()
	audit.Log(ctx, audit.Event{
		Type:     audit.EventCodeIssued,
		FamilyID: familyID,
		Details:  map[string]interface{}{"code": pairing.MaskCode(code)},
	})
	log.Info().
		Str("code", pairing.MaskCode(code)).
		Str("familyId", familyID).
		Time("expiresAt", pc.ExpiresAt).
		Msg("pairing code created")

	return &model.CreatePairingCodeResult{
		Code:      pc.Code,
		QRPayload: pairing.EncodePayload(pc.Code, req.DeviceName),
		ExpiresAt: pc.ExpiresAt,
	}, nil
}

// uniqueCode retries generation until the code is not held by any stored code.
func (s *PairingService) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < config.CodeGenerateAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrCodeInternal, "generate pairing code", err)
		}
		existing, err := s.codeRepo.FindByCode(ctx, code)
		if err != nil {
			return "", apperrors.Database(fmt.Errorf("check code collision: %w", err))
		}
		if existing == nil {
			return code, nil
		}
		log.Debug().Str("code", pairing.MaskCode(code)).Msg("pairing code collision, retrying")
	}
	return "", apperrors.Conflict("could not allocate a unique pairing code")
}

func (s *PairingService) Status(ctx context.Context, familyID, code string) (*model.CodeStatusResult, error) {
	code = pairing.NormalizeInput(code)
	if err := pairing.ValidateCode(code); err != nil {
		return nil, err
	}

	pc, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if pc == nil || pc.FamilyID != familyID {
		return nil, apperrors.NotFound("Pairing code")
	}

	result := &model.CodeStatusResult{Status: pc.Status(s.now())}
	if result.Status == model.CodeStatusPaired && pc.DeviceID != nil {
		device, err := s.deviceRepo.FindByID(ctx, *pc.DeviceID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		result.Device = device
	}
	return result, nil
}

// Redeem consumes a code and registers the device that presented it.
func (s *PairingService) Redeem(ctx context.Context, req model.PairDeviceRequest) (*model.PairDeviceResult, error) {
	code := pairing.NormalizeInput(req.Code)
	if err := pairing.ValidateCode(code); err != nil {
		metrics.PairingOutcomes.WithLabelValues("rejected").Inc()
		return nil, err
	}

	pc, err := s.codeRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rejection := s.rejectCode(pc); rejection != nil {
		metrics.PairingOutcomes.WithLabelValues("rejected").Inc()
		audit.Log(ctx, audit.Event{
			Type:    audit.EventCodeRejected,
			Details: map[string]interface{}{"code": pairing.MaskCode(code), "reason": string(rejection.Code)},
		})
		return nil, rejection
	}

	params := model.CreateDeviceParams{
		ID:       uuid.NewString(),
		FamilyID: pc.FamilyID,
		Name:     req.DeviceName,
		Type:     req.DeviceType,
		Platform: req.Platform,
	}
	if params.Name == "" && pc.DeviceName != nil {
		params.Name = *pc.DeviceName
	}
	if params.Name == "" {
		params.Name = "Device " + code[:pairing.GroupLength]
	}
	if params.Type == "" {
		params.Type = defaultDeviceType
	}

	var device *model.Device
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		created, err := s.deviceRepo.WithTx(tx).Create(ctx, params)
		if err != nil {
			return apperrors.Database(fmt.Errorf("create device: %w", err))
		}
		used, err := s.codeRepo.WithTx(tx).MarkUsed(ctx, code, created.ID)
		if err != nil {
			return apperrors.Database(fmt.Errorf("mark code used: %w", err))
		}
		if !used {
			return apperrors.AlreadyPaired()
		}
		device = created
		return nil
	})
	if err != nil {
		metrics.PairingOutcomes.WithLabelValues("rejected").Inc()
		return nil, err
	}

	token, err := s.tokens.IssueDeviceToken(device.ID, device.FamilyID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "issue device token", err)
	}

	metrics.PairingOutcomes.WithLabelValues("redeemed").Inc()
	audit.Log(ctx, audit.Event{
		Type:     audit.EventCodeRedeemed,
		FamilyID: device.FamilyID,
		DeviceID: device.ID,
		Details:  map[string]interface{}{"code": pairing.MaskCode(code)},
	})

	publish(ctx, s.publisher, model.ChangeEvent{
		Table:    model.ChangeTableDevices,
		Op:       model.ChangeOpInsert,
		ID:       device.ID,
		FamilyID: device.FamilyID,
	})

	return &model.PairDeviceResult{
		Success:     true,
		DeviceID:    device.ID,
		DeviceToken: token,
	}, nil
}

func (s *PairingService) rejectCode(pc *model.PairingCode) *apperrors.AppError {
	if pc == nil {
		return apperrors.InvalidPairingCode("code not recognised")
	}
	switch pc.Status(s.now()) {
	case model.CodeStatusPaired:
		return apperrors.AlreadyPaired()
	case model.CodeStatusExpired:
		return apperrors.PairingExpired()
	}
	return nil
}

// publish logs instead of failing the request; listeners also resync on reconnect.
func publish(ctx context.Context, p events.Publisher, ev model.ChangeEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("familyId", ev.FamilyID).
			Str("table", string(ev.Table)).
			Msg("failed to publish change event")
	}
}
