package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	Log("pairing", ActionTokenUsed, "alice", "dev-1", "device_id dev-1", false, errors.New("token_used"))

	var line struct {
		Event Event `json:"audit_event"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pairing", line.Event.Workflow)
	assert.Equal(t, ActionTokenUsed, line.Event.Action)
	assert.Equal(t, "alice", line.Event.Owner)
	assert.Equal(t, "dev-1", line.Event.Target)
	assert.False(t, line.Event.Success)
	assert.Equal(t, "token_used", line.Event.Error)
	assert.False(t, line.Event.Timestamp.IsZero())
}
