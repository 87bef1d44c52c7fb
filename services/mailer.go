package services

import (
	"context"

	"go.pilab.hu/docflow/log"
)

// LogMailer is the reference notification transport. It never delivers anything.
type LogMailer struct {
	Logger log.Logger
}

func (m LogMailer) SendConfirmation(ctx context.Context, address, code string) error {
	if m.Logger == nil {
		return nil
	}
	m.Logger.Info(ctx, "not actually sending an email", map[string]interface{}{
		"to":   address,
		"code": code,
	})
	return nil
}
