package domain

const (
	ChannelStateNew   = "new"
	ChannelStateReady = "ready"
	// ChannelStateUnsupported parks public channels until they are implemented.
	ChannelStateUnsupported = "unsupported"
)

// Channel is a provisioned, isolated storage namespace exposed at a sync endpoint.
type Channel struct {
	Meta      `bson:",inline"`
	Name      string `bson:"name"                json:"name"`
	Public    bool   `bson:"public"              json:"public"`
	Syncpoint string `bson:"syncpoint,omitempty" json:"syncpoint,omitempty"`
}

// ChannelDescription is written into every ready channel namespace.
type ChannelDescription struct {
	ID   string `bson:"_id"  json:"_id"`
	Name string `bson:"name" json:"name"`
}

// DescriptionDocID is the fixed id of the description document.
const DescriptionDocID = "description"

// NamespaceName derives the storage namespace of a channel from its id.
func NamespaceName(channelID string) string {
	return "db-" + channelID
}
