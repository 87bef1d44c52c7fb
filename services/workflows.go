package services

import (
	"go.pilab.hu/docflow/docstate"
	"go.pilab.hu/docflow/domain"
)

// Workflows bundles the handlers of every workflow the engine runs.
type Workflows struct {
	Pairing  *PairingService
	Channels *ChannelService
}

// ExpectedTransitions lists the transitions that must have a handler.
func ExpectedTransitions() []docstate.Key {
	return []docstate.Key{
		docstate.K(domain.DocTypeDevice, domain.DeviceStateNew),
		docstate.K(domain.DocTypeConfirm, domain.ConfirmStateClicked),
		docstate.K(domain.DocTypeDevice, domain.DeviceStateConfirmed),
		docstate.K(domain.DocTypeChannel, domain.ChannelStateNew),
		docstate.K(domain.DocTypeChannel, domain.ChannelStateReady),
	}
}

// Register adds the workflows to b.
func (w *Workflows) Register(b *docstate.Builder) *docstate.Builder {
	if w.Pairing != nil {
		b.Unsafe(domain.DocTypeDevice, domain.DeviceStateNew, w.Pairing.HandleDeviceNew).
			Safe(domain.DocTypeConfirm, domain.ConfirmStateClicked, w.Pairing.HandleConfirmClicked).
			Safe(domain.DocTypeDevice, domain.DeviceStateConfirmed, w.Pairing.HandleDeviceConfirmed)
	}
	if w.Channels != nil {
		b.Safe(domain.DocTypeChannel, domain.ChannelStateNew, w.Channels.HandleChannelNew).
			Reentrant(domain.DocTypeChannel, domain.ChannelStateReady, w.Channels.HandleChannelReady)
	}
	return b
}

// Table builds the transition table and checks it covers every expected transition.
func (w *Workflows) Table() (*docstate.Table, error) {
	return w.Register(docstate.NewBuilder()).Build(ExpectedTransitions()...)
}
