package domain

// UserDocPrefix namespaces user documents the way the users database expects.
const UserDocPrefix = "org.couchdb.user:"

// UserDocID returns the document id of the named user.
func UserDocID(name string) string {
	return UserDocPrefix + name
}

// UserOAuth holds the credentials delegated to the user's devices.
// Every map is keyed for constant-time collision checks.
type UserOAuth struct {
	ConsumerKeys map[string]string   `bson:"consumer_keys" json:"consumer_keys"` // consumer_key -> consumer_secret
	Tokens       map[string]string   `bson:"tokens"        json:"tokens"`        // token -> token_secret
	Devices      map[string][]string `bson:"devices"       json:"devices"`       // device_id -> [consumer_key, token]
}

// User lives in the users namespace, separate from the workflow documents.
type User struct {
	Meta  `bson:",inline"`
	Name  string     `bson:"name"            json:"name"`
	Roles []string   `bson:"roles"           json:"roles"`
	OAuth *UserOAuth `bson:"oauth,omitempty" json:"oauth,omitempty"`
}

// NewUserSkeleton returns the document created for an owner seen for the first time.
func NewUserSkeleton(name string) *User {
	return &User{
		Meta:  Meta{ID: UserDocID(name), Type: DocTypeUser},
		Name:  name,
		Roles: []string{},
	}
}
