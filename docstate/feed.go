package docstate

import (
	"context"
	"sync"

	"go.pilab.hu/docflow/domain"
)

// Token is an opaque change-stream position.
type Token []byte

// Change is one observed document mutation.
type Change struct {
	domain.RawDocument
	Token Token

	seq uint64
}

// ChangeFeed yields changes in commit order per document.
type ChangeFeed interface {
	// Next blocks until a change is available or ctx is done.
	Next(ctx context.Context) (Change, error)
	Close(ctx context.Context) error
}

// FeedSource opens a ChangeFeed positioned after the given token.
// A nil token means start from the current head of the stream.
type FeedSource interface {
	Open(ctx context.Context, after Token) (ChangeFeed, error)
}

// Checkpointer persists the last acknowledged stream position.
type Checkpointer interface {
	// Load returns nil when nothing was saved yet.
	Load(ctx context.Context, name string) (Token, error)
	Save(ctx context.Context, name string, token Token) error
}

// MemoryCheckpointer keeps positions in process memory.
type MemoryCheckpointer struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryCheckpointer returns an empty MemoryCheckpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{tokens: map[string]Token{}}
}

func (m *MemoryCheckpointer) Load(_ context.Context, name string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[name], nil
}

func (m *MemoryCheckpointer) Save(_ context.Context, name string, token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[name] = append(Token(nil), token...)
	return nil
}

// watermark tracks the highest position below which every change finished.
type watermark struct {
	mu       sync.Mutex
	next     uint64
	low      uint64
	tokens   map[uint64]Token
	finished map[uint64]struct{}
}

func newWatermark() *watermark {
	return &watermark{
		tokens:   map[uint64]Token{},
		finished: map[uint64]struct{}{},
	}
}

func (w *watermark) add(token Token) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	seq := w.next
	w.next++
	w.tokens[seq] = token
	return seq
}

// done marks seq finished. When the low-water mark moves it returns the token
// of the last contiguous finished change and its sequence number.
func (w *watermark) done(seq uint64) (Token, uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished[seq] = struct{}{}

	var token Token
	var at uint64
	advanced := false
	for {
		if _, ok := w.finished[w.low]; !ok {
			break
		}
		if t := w.tokens[w.low]; t != nil {
			token, at, advanced = t, w.low, true
		}
		delete(w.finished, w.low)
		delete(w.tokens, w.low)
		w.low++
	}
	return token, at, advanced
}
