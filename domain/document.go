package domain

// DocType discriminates the documents stored in a collection.
type DocType string

const (
	DocTypeDevice  DocType = "device"
	DocTypeConfirm DocType = "confirm"
	DocTypeUser    DocType = "user"
	DocTypeChannel DocType = "channel"
)

// Meta is the header every workflow document carries.
// Rev is assigned by the store and must be presented unchanged on the next write.
type Meta struct {
	ID    string  `bson:"_id"            json:"_id"`
	Rev   string  `bson:"_rev,omitempty"  json:"_rev,omitempty"`
	Type  DocType `bson:"type"           json:"type"`
	State string  `bson:"state,omitempty" json:"state,omitempty"`
	Error string  `bson:"error,omitempty" json:"error,omitempty"`
}

// DocMeta implements Document.
func (m *Meta) DocMeta() *Meta { return m }

// Document is anything the DocumentStore can persist.
type Document interface {
	DocMeta() *Meta
}

// RawDocument is a stored document whose body has not been decoded into a
// concrete type yet. Handlers receive it and decode what they need.
type RawDocument struct {
	Meta
	decode func(v any) error
}

// NewRawDocument pairs a header with a decoder for the full body.
func NewRawDocument(meta Meta, decode func(v any) error) RawDocument {
	return RawDocument{Meta: meta, decode: decode}
}

// Decode unmarshals the full document body into v.
func (r RawDocument) Decode(v any) error {
	if r.decode == nil {
		return ErrNoBody
	}
	return r.decode(v)
}

var validStates = map[DocType]map[string]struct{}{
	DocTypeDevice: {
		DeviceStateNew:        {},
		DeviceStateConfirming: {},
		DeviceStateConfirmed:  {},
		DeviceStateActive:     {},
		DeviceStateError:      {},
	},
	DocTypeConfirm: {
		ConfirmStateClicked: {},
		ConfirmStateUsed:    {},
		ConfirmStateError:   {},
	},
	DocTypeChannel: {
		ChannelStateNew:         {},
		ChannelStateReady:       {},
		ChannelStateUnsupported: {},
	},
	DocTypeUser: {
		"": {},
	},
}

// ValidState reports whether state is declared for the document type.
func ValidState(t DocType, state string) bool {
	states, ok := validStates[t]
	if !ok {
		return false
	}
	_, ok = states[state]
	return ok
}
