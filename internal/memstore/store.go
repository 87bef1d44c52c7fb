// Package memstore is an in-process DocumentStore with a change feed, used by
// tests and by the single-binary demo mode.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"go.pilab.hu/docflow/docstate"
	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
)

// ErrFeedBroken is returned by feeds after Break.
var ErrFeedBroken = errors.New("memstore: change feed interrupted")

type record struct {
	meta domain.Meta
	body []byte
}

type change struct {
	seq uint64
	rec record
}

// Store keeps documents as BSON so callers never share memory with it.
type Store struct {
	mu        sync.Mutex
	docs      map[string]record
	history   []change
	wake      chan struct{}
	conflicts map[string]int
	epoch     int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		docs:      map[string]record{},
		wake:      make(chan struct{}),
		conflicts: map[string]int{},
	}
}

func decoder(body []byte) func(any) error {
	return func(v any) error { return bson.Unmarshal(body, v) }
}

func (s *Store) Get(_ context.Context, id string) (domain.RawDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.docs[id]
	if !ok {
		return domain.RawDocument{}, fmt.Errorf("document %q: %w", id, serrors.ErrNotFound)
	}
	return domain.NewRawDocument(rec.meta, decoder(rec.body)), nil
}

func (s *Store) Put(_ context.Context, doc domain.Document) error {
	meta := doc.DocMeta()
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.conflicts[meta.ID]; n > 0 {
		s.conflicts[meta.ID] = n - 1
		return fmt.Errorf("document %q: %w", meta.ID, serrors.ErrConflict)
	}
	current, exists := s.docs[meta.ID]
	switch {
	case !exists && meta.Rev != "":
		return fmt.Errorf("document %q: %w", meta.ID, serrors.ErrConflict)
	case exists && current.meta.Rev != meta.Rev:
		return fmt.Errorf("document %q: %w", meta.ID, serrors.ErrConflict)
	}

	prev := meta.Rev
	meta.Rev = domain.NextRevision(prev)
	body, err := bson.Marshal(doc)
	if err != nil {
		meta.Rev = prev
		return fmt.Errorf("encode document %q: %w", meta.ID, err)
	}

	rec := record{meta: *meta, body: body}
	s.docs[meta.ID] = rec
	s.history = append(s.history, change{seq: uint64(len(s.history)) + 1, rec: rec})
	s.broadcast()
	return nil
}

func (s *Store) List(_ context.Context, opts domain.ListOptions) ([]domain.RawDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RawDocument, 0, len(s.docs))
	for _, rec := range s.docs {
		if opts.Type != "" && rec.meta.Type != opts.Type {
			continue
		}
		out = append(out, domain.NewRawDocument(rec.meta, decoder(rec.body)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InjectConflict makes the next n writes of id fail with a conflict.
func (s *Store) InjectConflict(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[id] = n
}

// Break interrupts every open feed with ErrFeedBroken.
func (s *Store) Break() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.broadcast()
}

// Head returns the position of the latest change.
func (s *Store) Head() docstate.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeToken(uint64(len(s.history)))
}

func (s *Store) broadcast() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// Open implements docstate.FeedSource.
func (s *Store) Open(_ context.Context, after docstate.Token) (docstate.ChangeFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := uint64(len(s.history))
	if after != nil {
		seq, err := decodeToken(after)
		if err != nil {
			return nil, err
		}
		pos = min(seq, pos)
	}
	return &feed{store: s, pos: pos, epoch: s.epoch}, nil
}

type feed struct {
	store  *Store
	pos    uint64
	epoch  int
	closed bool
}

func (f *feed) Next(ctx context.Context) (docstate.Change, error) {
	s := f.store
	for {
		s.mu.Lock()
		switch {
		case f.closed:
			s.mu.Unlock()
			return docstate.Change{}, errors.New("memstore: feed closed")
		case f.epoch != s.epoch:
			s.mu.Unlock()
			return docstate.Change{}, ErrFeedBroken
		case f.pos < uint64(len(s.history)):
			c := s.history[f.pos]
			f.pos++
			s.mu.Unlock()
			return docstate.Change{
				RawDocument: domain.NewRawDocument(c.rec.meta, decoder(c.rec.body)),
				Token:       encodeToken(c.seq),
			}, nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return docstate.Change{}, ctx.Err()
		case <-wake:
		}
	}
}

func (f *feed) Close(context.Context) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.closed = true
	return nil
}

func encodeToken(seq uint64) docstate.Token {
	return docstate.Token(strconv.FormatUint(seq, 10))
}

func decodeToken(t docstate.Token) (uint64, error) {
	seq, err := strconv.ParseUint(string(t), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memstore: bad resume token %q: %w", string(t), err)
	}
	return seq, nil
}
