package services

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
	"go.pilab.hu/docflow/internal/audit"
	"go.pilab.hu/docflow/internal/metrics"
	"go.pilab.hu/docflow/log"
)

const channelWorkflow = "channel"

// Channel steps.
const (
	StepDecode          = "decode"
	StepRejectPublic    = "reject_public"
	StepCreateNamespace = "create_namespace"
	StepMarkReady       = "mark_ready"
	StepDescribe        = "describe"
)

// PublicChannelsUnsupported is recorded on public channels.
const PublicChannelsUnsupported = "public channels are not implemented"

// ChannelConfig configures channel provisioning.
type ChannelConfig struct {
	// PublicSyncURL prefixes the namespace name to form the syncpoint.
	PublicSyncURL    string
	NamespaceTimeout time.Duration
}

// ChannelService provisions a storage namespace per private channel.
type ChannelService struct {
	docs        domain.DocumentStore
	provisioner domain.NamespaceProvisioner
	log         log.Logger
	cfg         ChannelConfig
}

// NewChannelService creates a ChannelService.
func NewChannelService(docs domain.DocumentStore, provisioner domain.NamespaceProvisioner, logger log.Logger, cfg ChannelConfig) *ChannelService {
	if cfg.NamespaceTimeout <= 0 {
		cfg.NamespaceTimeout = 15 * time.Second
	}
	return &ChannelService{
		docs:        docs,
		provisioner: provisioner,
		log:         logger.With(map[string]interface{}{"workflow": channelWorkflow}),
		cfg:         cfg,
	}
}

func (s *ChannelService) fail(step, docID string, err error) error {
	metrics.ObserveStepFailure(channelWorkflow, step, serrors.Code(err))
	return serrors.Step(channelWorkflow, step, docID, err)
}

// HandleChannelNew creates the channel's namespace and marks it ready.
// Public channels are parked in unsupported.
func (s *ChannelService) HandleChannelNew(ctx context.Context, doc domain.RawDocument) error {
	ch := &domain.Channel{}
	if err := doc.Decode(ch); err != nil {
		return s.fail(StepDecode, doc.ID, err)
	}
	if ch.State != domain.ChannelStateNew {
		return nil
	}

	if ch.Public {
		reason := serrors.NewUnsupported(PublicChannelsUnsupported)
		ch.State = domain.ChannelStateUnsupported
		ch.Error = reason.Description
		if err := s.docs.Put(ctx, ch); err != nil {
			return s.fail(StepRejectPublic, ch.ID, err)
		}
		s.log.Warn(ctx, "Public channel left unprovisioned", map[string]interface{}{"doc_id": ch.ID, "name": ch.Name})
		audit.Log(channelWorkflow, audit.ActionChannelRejected, "", ch.ID, reason.Description, false, reason)
		return s.fail(StepRejectPublic, ch.ID, reason)
	}

	ns := domain.NamespaceName(ch.ID)
	createCtx, cancel := context.WithTimeout(ctx, s.cfg.NamespaceTimeout)
	err := s.provisioner.CreateNamespace(createCtx, ns)
	cancel()
	switch {
	case errors.Is(err, serrors.ErrAlreadyExists):
		s.log.Debug(ctx, "Namespace already exists", map[string]interface{}{"doc_id": ch.ID, "namespace": ns})
	case err != nil:
		return s.fail(StepCreateNamespace, ch.ID, err)
	}

	ch.Syncpoint = s.cfg.PublicSyncURL + ns
	ch.State = domain.ChannelStateReady
	ch.Error = ""
	if err := s.docs.Put(ctx, ch); err != nil {
		return s.fail(StepMarkReady, ch.ID, err)
	}

	audit.Log(channelWorkflow, audit.ActionChannelReady, "", ch.ID, ch.Syncpoint, true, nil)
	s.log.Info(ctx, "Channel ready", map[string]interface{}{"doc_id": ch.ID, "syncpoint": ch.Syncpoint})
	return nil
}

// HandleChannelReady (over)writes the description document of the namespace.
// It runs on every delivery of a ready channel.
func (s *ChannelService) HandleChannelReady(ctx context.Context, doc domain.RawDocument) error {
	ch := &domain.Channel{}
	if err := doc.Decode(ch); err != nil {
		return s.fail(StepDecode, doc.ID, err)
	}

	desc := domain.ChannelDescription{ID: domain.DescriptionDocID, Name: ch.Name}
	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.NamespaceTimeout)
	defer cancel()
	if err := s.provisioner.WriteDocument(writeCtx, domain.NamespaceName(ch.ID), desc.ID, desc); err != nil {
		return s.fail(StepDescribe, ch.ID, err)
	}
	return nil
}
