package domain

import (
	"context"
	"errors"
)

// ErrNoBody is returned when a RawDocument carries no decoder.
var ErrNoBody = errors.New("document has no body")

// ListOptions narrows a List call. The zero value lists everything.
type ListOptions struct {
	Type DocType
}

// DocumentStore is a named collection of revisioned documents.
type DocumentStore interface {
	// Get returns the current revision of a document or errors.ErrNotFound.
	Get(ctx context.Context, id string) (RawDocument, error)
	// Put writes doc if its Rev still matches the stored one (empty Rev means create).
	// On success the new revision is set on doc; on mismatch errors.ErrConflict is returned.
	Put(ctx context.Context, doc Document) error
	// List returns documents ordered by id.
	List(ctx context.Context, opts ListOptions) ([]RawDocument, error)
}

// CredentialStore writes into the backend's configuration namespace.
type CredentialStore interface {
	Put(ctx context.Context, section, key, value string) error
}

// NamespaceProvisioner creates isolated storage namespaces for channels.
type NamespaceProvisioner interface {
	// CreateNamespace returns errors.ErrAlreadyExists if the namespace is present.
	CreateNamespace(ctx context.Context, name string) error
	// WriteDocument overwrites docID inside the namespace.
	WriteDocument(ctx context.Context, namespace, docID string, doc any) error
}

// Mailer delivers confirmation codes to device owners.
type Mailer interface {
	SendConfirmation(ctx context.Context, address, code string) error
}
