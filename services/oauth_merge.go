package services

import (
	"slices"

	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
)

// ApplyOAuth merges a device's credentials into the user's oauth maps.
//
// Re-applying the pair already recorded for the same device is a no-op and
// reports changed=false. A consumer key or token that is already present
// anywhere else on the user fails with token_used and leaves user untouched.
func ApplyOAuth(user *domain.User, deviceID string, creds domain.OAuthCredentials) (changed bool, err error) {
	o := user.OAuth
	if o == nil {
		o = &domain.UserOAuth{}
	}

	if slices.Equal(o.Devices[deviceID], []string{creds.ConsumerKey, creds.Token}) &&
		o.ConsumerKeys[creds.ConsumerKey] == creds.ConsumerSecret &&
		o.Tokens[creds.Token] == creds.TokenSecret {
		return false, nil
	}

	if _, taken := o.ConsumerKeys[creds.ConsumerKey]; taken {
		return false, serrors.NewTokenUsed(deviceID)
	}
	if _, taken := o.Tokens[creds.Token]; taken {
		return false, serrors.NewTokenUsed(deviceID)
	}

	if o.ConsumerKeys == nil {
		o.ConsumerKeys = map[string]string{}
	}
	if o.Tokens == nil {
		o.Tokens = map[string]string{}
	}
	if o.Devices == nil {
		o.Devices = map[string][]string{}
	}
	o.ConsumerKeys[creds.ConsumerKey] = creds.ConsumerSecret
	o.Tokens[creds.Token] = creds.TokenSecret
	o.Devices[deviceID] = []string{creds.ConsumerKey, creds.Token}
	user.OAuth = o
	return true, nil
}
