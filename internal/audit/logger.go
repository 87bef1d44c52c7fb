package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Audited actions.
const (
	ActionConfirmationSent  = "confirmation_sent"
	ActionDeviceConfirmed   = "device_confirmed"
	ActionCredentialsMinted = "credentials_minted"
	ActionCredentialsIssued = "credentials_issued"
	ActionTokenUsed         = "token_used"
	ActionChannelReady      = "channel_ready"
	ActionChannelRejected   = "channel_rejected"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Workflow  string    `json:"workflow"`
	Action    string    `json:"action"`
	Owner     string    `json:"owner,omitempty"`  // account the document belongs to
	Target    string    `json:"target,omitempty"` // document id
	Details   string    `json:"details,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

var (
	mu          sync.Mutex
	auditLogger = zerolog.New(os.Stdout)
)

// SetOutput redirects audit events, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	auditLogger = zerolog.New(w)
}

// Log records an audit event.
func Log(workflow, action, owner, target, details string, success bool, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Workflow:  workflow,
		Action:    action,
		Owner:     owner,
		Target:    target,
		Details:   details,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}

	mu.Lock()
	defer mu.Unlock()

	entry, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to marshal audit event to JSON")
		auditLogger.Error().
			Str("workflow", workflow).
			Str("action", action).
			Str("target", target).
			Bool("success", success).
			Err(err).
			Msg("Audit Log (fallback)")
		return
	}
	auditLogger.Log().RawJSON("audit_event", entry).Msg("")
}
