package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	serrors "go.pilab.hu/docflow/errors"
)

// Credentials is an in-memory CredentialStore.
type Credentials struct {
	mu       sync.Mutex
	sections map[string]map[string]string
	// Fail, when set, is consulted before every write.
	Fail func(section, key string) error
}

// NewCredentials returns an empty Credentials store.
func NewCredentials() *Credentials {
	return &Credentials{sections: map[string]map[string]string{}}
}

func (c *Credentials) Put(_ context.Context, section, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail != nil {
		if err := c.Fail(section, key); err != nil {
			return err
		}
	}
	if c.sections[section] == nil {
		c.sections[section] = map[string]string{}
	}
	c.sections[section][key] = value
	return nil
}

// Value returns a stored entry.
func (c *Credentials) Value(section, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.sections[section][key]
	return v, ok
}

// Namespaces is an in-memory NamespaceProvisioner that stores documents as JSON.
type Namespaces struct {
	mu     sync.Mutex
	spaces map[string]map[string][]byte
	writes map[string]int
}

// NewNamespaces returns an empty provisioner.
func NewNamespaces() *Namespaces {
	return &Namespaces{spaces: map[string]map[string][]byte{}, writes: map[string]int{}}
}

func (n *Namespaces) CreateNamespace(_ context.Context, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.spaces[name]; ok {
		return fmt.Errorf("namespace %q: %w", name, serrors.ErrAlreadyExists)
	}
	n.spaces[name] = map[string][]byte{}
	return nil
}

func (n *Namespaces) WriteDocument(_ context.Context, namespace, docID string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	space, ok := n.spaces[namespace]
	if !ok {
		return fmt.Errorf("namespace %q: %w", namespace, serrors.ErrNotFound)
	}
	space[docID] = body
	n.writes[namespace+"/"+docID]++
	return nil
}

// Exists reports whether the namespace was created.
func (n *Namespaces) Exists(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.spaces[name]
	return ok
}

// Document returns the raw JSON of a namespace document.
func (n *Namespaces) Document(namespace, docID string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	body, ok := n.spaces[namespace][docID]
	return body, ok
}

// Writes counts successful WriteDocument calls for docID.
func (n *Namespaces) Writes(namespace, docID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writes[namespace+"/"+docID]
}
