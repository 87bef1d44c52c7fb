package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
	"go.pilab.hu/docflow/internal/audit"
	"go.pilab.hu/docflow/internal/metrics"
	"go.pilab.hu/docflow/log"
)

const pairingWorkflow = "pairing"

// Pairing steps, as reported in StepError and metrics.
const (
	StepLoad            = "load"
	StepSendEmail       = "send_email"
	StepMarkConfirming  = "mark_confirming"
	StepMatchDevice     = "match_device"
	StepConfirmDevice   = "confirm_device"
	StepMarkConfirm     = "mark_confirm"
	StepMint            = "mint"
	StepEnsureUser      = "ensure_user"
	StepApplyOAuth      = "apply_oauth"
	StepSaveUser        = "save_user"
	StepPushCredentials = "push_credentials"
	StepActivate        = "activate"
)

// PairingConfig bounds the outbound calls of the pairing workflow.
type PairingConfig struct {
	EmailTimeout      time.Duration
	CredentialTimeout time.Duration
}

// PairingService drives devices from new to active.
type PairingService struct {
	docs   domain.DocumentStore
	users  domain.DocumentStore
	creds  domain.CredentialStore
	mailer domain.Mailer
	log    log.Logger
	cfg    PairingConfig

	Codes  CodeGenerator
	Minter CredentialMinter
}

// NewPairingService creates a PairingService. Users live in their own store.
func NewPairingService(
	docs, users domain.DocumentStore,
	creds domain.CredentialStore,
	mailer domain.Mailer,
	logger log.Logger,
	cfg PairingConfig,
) *PairingService {
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = 10 * time.Second
	}
	if cfg.CredentialTimeout <= 0 {
		cfg.CredentialTimeout = 5 * time.Second
	}
	return &PairingService{
		docs:   docs,
		users:  users,
		creds:  creds,
		mailer: mailer,
		log:    logger.With(map[string]interface{}{"workflow": pairingWorkflow}),
		cfg:    cfg,
		Codes:  RandomCodes{},
		Minter: RandomCodes{},
	}
}

func (s *PairingService) fail(step, docID string, err error) error {
	metrics.ObserveStepFailure(pairingWorkflow, step, serrors.Code(err))
	return serrors.Step(pairingWorkflow, step, docID, err)
}

func (s *PairingService) loadDevice(ctx context.Context, id string) (*domain.Device, error) {
	raw, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	dev := &domain.Device{}
	if err := raw.Decode(dev); err != nil {
		return nil, fmt.Errorf("decode device %s: %w", id, err)
	}
	return dev, nil
}

// HandleDeviceNew emails a fresh confirmation code and moves the device to confirming.
// A failed send leaves the device in new.
func (s *PairingService) HandleDeviceNew(ctx context.Context, doc domain.RawDocument) error {
	dev, err := s.loadDevice(ctx, doc.ID)
	if err != nil {
		return s.fail(StepLoad, doc.ID, err)
	}
	if dev.State != domain.DeviceStateNew {
		s.log.Debug(ctx, "Device moved on, skipping", map[string]interface{}{"doc_id": dev.ID, "state": dev.State})
		return nil
	}

	code, err := s.Codes.ConfirmationCode()
	if err != nil {
		return s.fail(StepSendEmail, dev.ID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.EmailTimeout)
	err = s.mailer.SendConfirmation(sendCtx, dev.Owner, code)
	cancel()
	if err != nil {
		return s.fail(StepSendEmail, dev.ID, err)
	}

	dev.State = domain.DeviceStateConfirming
	dev.ConfirmCode = code
	if err := s.docs.Put(ctx, dev); err != nil {
		return s.fail(StepMarkConfirming, dev.ID, err)
	}

	audit.Log(pairingWorkflow, audit.ActionConfirmationSent, dev.Owner, dev.ID, "", true, nil)
	s.log.Info(ctx, "Confirmation sent", map[string]interface{}{"doc_id": dev.ID, "owner": dev.Owner})
	return nil
}

// findDevice returns the first device, in id order, carrying both codes.
func (s *PairingService) findDevice(ctx context.Context, deviceCode, confirmCode string) (*domain.Device, error) {
	if deviceCode == "" || confirmCode == "" {
		return nil, nil
	}
	// TODO: replace the scan with a (device_code, confirm_code) index lookup.
	devices, err := s.docs.List(ctx, domain.ListOptions{Type: domain.DocTypeDevice})
	if err != nil {
		return nil, err
	}
	for _, raw := range devices {
		dev := &domain.Device{}
		if err := raw.Decode(dev); err != nil {
			s.log.Warn(ctx, "Skipping undecodable device", map[string]interface{}{"doc_id": raw.ID, "error": err.Error()})
			continue
		}
		if dev.DeviceCode == deviceCode && dev.ConfirmCode == confirmCode {
			return dev, nil
		}
	}
	return nil, nil
}

// HandleConfirmClicked matches a confirmation against the waiting device.
func (s *PairingService) HandleConfirmClicked(ctx context.Context, doc domain.RawDocument) error {
	confirm := &domain.Confirm{}
	if err := doc.Decode(confirm); err != nil {
		return s.fail(StepMatchDevice, doc.ID, err)
	}
	if confirm.State != domain.ConfirmStateClicked {
		return nil
	}

	dev, err := s.findDevice(ctx, confirm.DeviceCode, confirm.ConfirmCode)
	if err != nil {
		return s.fail(StepMatchDevice, confirm.ID, err)
	}

	switch {
	case dev == nil:
		return s.rejectConfirm(ctx, confirm, serrors.NewNoMatchingDevice())

	case dev.State == domain.DeviceStateConfirming:
		dev.State = domain.DeviceStateConfirmed
		// The confirm stays clicked until the device write lands. Marking it used first
		// would make the conflict retry see a used confirm and leave the device confirming.
		if err := s.docs.Put(ctx, dev); err != nil {
			s.log.Error(ctx, "Confirming device failed", err, map[string]interface{}{"doc_id": dev.ID, "confirm_id": confirm.ID})
			return s.fail(StepConfirmDevice, dev.ID, err)
		}
		audit.Log(pairingWorkflow, audit.ActionDeviceConfirmed, dev.Owner, dev.ID, "confirm "+confirm.ID, true, nil)

	case domain.DeviceStateRank(dev.State) >= domain.DeviceStateRank(domain.DeviceStateConfirmed) &&
		dev.State != domain.DeviceStateError:
		s.log.Debug(ctx, "Device already confirmed", map[string]interface{}{"doc_id": dev.ID, "state": dev.State})

	default:
		return s.rejectConfirm(ctx, confirm, serrors.NewDeviceNotConfirming(dev.ID, dev.State))
	}

	confirm.State = domain.ConfirmStateUsed
	confirm.Error = ""
	if err := s.docs.Put(ctx, confirm); err != nil {
		s.log.Error(ctx, "Marking confirmation used failed", err, map[string]interface{}{"doc_id": confirm.ID, "device_id": dev.ID})
		return s.fail(StepMarkConfirm, confirm.ID, err)
	}
	return nil
}

// rejectConfirm parks the confirmation in error with the reason, then reports the reason.
func (s *PairingService) rejectConfirm(ctx context.Context, confirm *domain.Confirm, reason *serrors.WorkflowError) error {
	confirm.State = domain.ConfirmStateError
	confirm.Error = reason.Description
	if err := s.docs.Put(ctx, confirm); err != nil {
		return s.fail(StepMarkConfirm, confirm.ID, err)
	}
	return s.fail(StepMatchDevice, confirm.ID, reason)
}

func (s *PairingService) ensureUser(ctx context.Context, name string) (*domain.User, error) {
	raw, err := s.users.Get(ctx, domain.UserDocID(name))
	if errors.Is(err, serrors.ErrNotFound) {
		return domain.NewUserSkeleton(name), nil
	}
	if err != nil {
		return nil, err
	}
	user := &domain.User{}
	if err := raw.Decode(user); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", name, err)
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	return user, nil
}

// HandleDeviceConfirmed issues the device's credentials and activates it.
// Every step converges on replay, so a failure anywhere leaves the device
// in confirmed for the next delivery to pick up.
func (s *PairingService) HandleDeviceConfirmed(ctx context.Context, doc domain.RawDocument) error {
	dev, err := s.loadDevice(ctx, doc.ID)
	if err != nil {
		return s.fail(StepLoad, doc.ID, err)
	}
	if dev.State != domain.DeviceStateConfirmed {
		return nil
	}

	if !dev.OAuthCreds.Complete() {
		creds, err := s.Minter.Mint()
		if err != nil {
			return s.fail(StepMint, dev.ID, err)
		}
		dev.OAuthCreds = creds
		if err := s.docs.Put(ctx, dev); err != nil {
			return s.fail(StepMint, dev.ID, err)
		}
		audit.Log(pairingWorkflow, audit.ActionCredentialsMinted, dev.Owner, dev.ID, "", true, nil)
		return nil
	}
	creds := *dev.OAuthCreds

	user, err := s.ensureUser(ctx, dev.Owner)
	if err != nil {
		return s.fail(StepEnsureUser, dev.ID, err)
	}

	changed, err := ApplyOAuth(user, dev.ID, creds)
	if err != nil {
		return s.recordCollision(ctx, dev, err)
	}
	if changed {
		if err := s.users.Put(ctx, user); err != nil {
			return s.fail(StepSaveUser, dev.ID, err)
		}
	}

	if err := PushCredentials(ctx, s.creds, s.cfg.CredentialTimeout, user.Name, creds); err != nil {
		return s.fail(StepPushCredentials, dev.ID, err)
	}

	dev.State = domain.DeviceStateActive
	dev.Error = ""
	if err := s.docs.Put(ctx, dev); err != nil {
		return s.fail(StepActivate, dev.ID, err)
	}

	audit.Log(pairingWorkflow, audit.ActionCredentialsIssued, user.Name, dev.ID, "consumer_key "+creds.ConsumerKey, true, nil)
	s.log.Info(ctx, "Device activated", map[string]interface{}{"doc_id": dev.ID, "owner": user.Name})
	return nil
}

// recordCollision keeps the device in confirmed and stores the reason on it.
// The write only happens when the reason changes, so the resulting change does
// not loop.
func (s *PairingService) recordCollision(ctx context.Context, dev *domain.Device, cause error) error {
	audit.Log(pairingWorkflow, audit.ActionTokenUsed, dev.Owner, dev.ID, "", false, cause)
	if dev.Error != cause.Error() {
		dev.Error = cause.Error()
		if err := s.docs.Put(ctx, dev); err != nil {
			s.log.Error(ctx, "Recording credential collision failed", err, map[string]interface{}{"doc_id": dev.ID})
		}
	}
	return s.fail(StepApplyOAuth, dev.ID, cause)
}
