package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"go.pilab.hu/docflow/domain"
	"go.pilab.hu/docflow/internal/metrics"
)

// Credential store sections written for every activated device.
const (
	SectionConsumerSecrets = "oauth_consumer_secrets"
	SectionTokenUsers      = "oauth_token_users"
	SectionTokenSecrets    = "oauth_token_secrets"
)

type credentialPut struct {
	section, key, value string
}

func credentialPuts(userName string, creds domain.OAuthCredentials) []credentialPut {
	return []credentialPut{
		{SectionConsumerSecrets, creds.ConsumerKey, creds.ConsumerSecret},
		{SectionTokenUsers, creds.Token, userName},
		{SectionTokenSecrets, creds.Token, creds.TokenSecret},
	}
}

// PushCredentials writes the three credential entries concurrently and returns
// nil only when every write was acknowledged. Writes that already succeeded are
// not rolled back; each is an overwrite of the same value, so a retry converges.
func PushCredentials(ctx context.Context, store domain.CredentialStore, timeout time.Duration,
	userName string, creds domain.OAuthCredentials,
) error {
	ops := credentialPuts(userName, creds)
	var acks atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for _, op := range ops {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := store.Put(callCtx, op.section, op.key, op.value); err != nil {
				metrics.CredentialPushesTotal.WithLabelValues(op.section, "error").Inc()
				return fmt.Errorf("put %s[%s]: %w", op.section, op.key, err)
			}
			metrics.CredentialPushesTotal.WithLabelValues(op.section, "ok").Inc()
			acks.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := int(acks.Load()); n != len(ops) {
		return fmt.Errorf("credential push acknowledged %d of %d writes", n, len(ops))
	}
	return nil
}
