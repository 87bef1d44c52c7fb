package domain

// Device states. A device only ever moves forward through them.
const (
	DeviceStateNew        = "new"
	DeviceStateConfirming = "confirming"
	DeviceStateConfirmed  = "confirmed"
	DeviceStateActive     = "active"
	DeviceStateError      = "error"
)

// Confirm states. A confirm document is immutable once used or errored.
const (
	ConfirmStateClicked = "clicked"
	ConfirmStateUsed    = "used"
	ConfirmStateError   = "error"
)

var deviceStateRank = map[string]int{
	DeviceStateNew:        0,
	DeviceStateConfirming: 1,
	DeviceStateConfirmed:  2,
	DeviceStateActive:     3,
	DeviceStateError:      4,
}

// DeviceStateRank orders device states for the forward-only check.
// Unknown states rank below new.
func DeviceStateRank(state string) int {
	if r, ok := deviceStateRank[state]; ok {
		return r
	}
	return -1
}

// OAuthCredentials are the per-device credentials issued once pairing completes.
type OAuthCredentials struct {
	ConsumerKey    string `bson:"consumer_key"    json:"consumer_key"`
	ConsumerSecret string `bson:"consumer_secret" json:"consumer_secret"`
	Token          string `bson:"token"           json:"token"`
	TokenSecret    string `bson:"token_secret"    json:"token_secret"`
}

// Complete reports whether every field is set.
func (c *OAuthCredentials) Complete() bool {
	return c != nil && c.ConsumerKey != "" && c.ConsumerSecret != "" && c.Token != "" && c.TokenSecret != ""
}

// Device is a client endpoint being paired to a user account.
type Device struct {
	Meta        `bson:",inline"`
	Owner       string            `bson:"owner"                  json:"owner"`
	DeviceCode  string            `bson:"device_code"            json:"device_code"`
	ConfirmCode string            `bson:"confirm_code,omitempty" json:"confirm_code,omitempty"`
	OAuthCreds  *OAuthCredentials `bson:"oauth_creds,omitempty"  json:"oauth_creds,omitempty"`
}

// Confirm records an out-of-band confirmation, e.g. a click on an emailed link.
type Confirm struct {
	Meta        `bson:",inline"`
	DeviceCode  string `bson:"device_code"  json:"device_code"`
	ConfirmCode string `bson:"confirm_code" json:"confirm_code"`
}
