// Package txn wraps one dispatch call. Reads go straight to the store and
// are recorded as guaranteed operations; writes are buffered in an overlay,
// recorded as fallible operations, and reach the store only on Commit.
//
// A context writes at most one key, either one identity or the model hash,
// so Commit is a single store write and cannot apply partially.
package txn

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
)

var (
	ErrClosed    = errors.New("txn: context already committed or aborted")
	ErrSecondKey = errors.New("txn: context already holds a write for another key")
)

// #region ops
// Kind names a state operation in a transcript.
type Kind string

const (
	KindGet          Kind = "get"
	KindApply        Kind = "apply"
	KindGetModelHash Kind = "get_model_hash"
	KindSetModelHash Kind = "set_model_hash"
)

// Op is one state operation. Only the fields relevant to Kind are set.
// ModelVersion is the version read, or the version a write produces.
type Op struct {
	Kind         Kind              `json:"kind"`
	Identity     *ledger.Identity  `json:"identity,omitempty"`
	Entry        *ledger.Entry     `json:"entry,omitempty"`
	ModelHash    *ledger.ModelHash `json:"model_hash,omitempty"`
	ModelVersion *uint64           `json:"model_version,omitempty"`
}

// Transcript is the ordered operation log of one invocation.
type Transcript struct {
	Guaranteed []Op `json:"guaranteed"`
	Fallible   []Op `json:"fallible"`
}

// #endregion ops

// #region context
// Context is a single-use transaction over a ledger.Store. It is not safe for
// concurrent use; callers hold the identity lock for its lifetime.
type Context struct {
	id    string
	store ledger.Store

	original    map[ledger.Identity]ledger.Entry
	overlay     map[ledger.Identity]ledger.Entry
	written     *ledger.Identity
	origModel   *ledger.ModelHash
	origVersion uint64
	newModel    *ledger.ModelHash

	guaranteed []Op
	fallible   []Op
	closed     bool
}

// Begin opens a context on store.
func Begin(store ledger.Store) *Context {
	return &Context{
		id:         uuid.New().String(),
		store:      store,
		original:   make(map[ledger.Identity]ledger.Entry),
		overlay:    make(map[ledger.Identity]ledger.Entry),
		guaranteed: []Op{},
		fallible:   []Op{},
	}
}

// ID is a random transaction id for logs. It never enters a transcript.
func (c *Context) ID() string { return c.id }

// #endregion context

// #region reads
// Get returns the entry for id. Buffered writes are visible; store reads are
// recorded as guaranteed.
func (c *Context) Get(id ledger.Identity) (ledger.Entry, error) {
	if c.closed {
		return ledger.Entry{}, ErrClosed
	}
	if e, ok := c.overlay[id]; ok {
		return e.Clone(), nil
	}
	e, err := c.load(id)
	if err != nil {
		return ledger.Entry{}, err
	}
	c.guaranteed = append(c.guaranteed, entryOp(KindGet, id, e))
	return e.Clone(), nil
}

// ModelHash returns the current model hash, recorded as guaranteed.
func (c *Context) ModelHash() (ledger.ModelHash, error) {
	h, _, err := c.Model()
	return h, err
}

// Model returns the model hash and its version as one guaranteed read. A
// buffered write is visible with the version it will produce.
func (c *Context) Model() (ledger.ModelHash, uint64, error) {
	if c.closed {
		return ledger.ModelHash{}, 0, ErrClosed
	}
	if c.newModel != nil {
		return *c.newModel, c.origVersion + 1, nil
	}
	h, err := c.loadModel()
	if err != nil {
		return ledger.ModelHash{}, 0, err
	}
	c.guaranteed = append(c.guaranteed, modelOp(KindGetModelHash, h, c.origVersion))
	return h, c.origVersion, nil
}

// Original returns the entry for id as it was before this context touched it.
func (c *Context) Original(id ledger.Identity) (ledger.Entry, error) {
	e, err := c.load(id)
	if err != nil {
		return ledger.Entry{}, err
	}
	return e.Clone(), nil
}

func (c *Context) load(id ledger.Identity) (ledger.Entry, error) {
	if e, ok := c.original[id]; ok {
		return e, nil
	}
	e, err := c.store.Get(id)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("read entry: %w", err)
	}
	c.original[id] = e
	return e, nil
}

func (c *Context) loadModel() (ledger.ModelHash, error) {
	if c.origModel != nil {
		return *c.origModel, nil
	}
	h, err := c.store.ModelHash()
	if err != nil {
		return ledger.ModelHash{}, fmt.Errorf("read model hash: %w", err)
	}
	v, err := c.store.ModelVersion()
	if err != nil {
		return ledger.ModelHash{}, fmt.Errorf("read model version: %w", err)
	}
	c.origModel, c.origVersion = &h, v
	return h, nil
}

// #endregion reads

// #region writes
// Apply buffers (score, commitment) for id and records a fallible apply.
// Repeated applies to the same id are allowed; a different id or a pending
// model hash write is ErrSecondKey.
func (c *Context) Apply(id ledger.Identity, score uint8, com commit.Commitment) (ledger.Entry, error) {
	if c.closed {
		return ledger.Entry{}, ErrClosed
	}
	if c.newModel != nil || (c.written != nil && *c.written != id) {
		return ledger.Entry{}, fmt.Errorf("%w: apply %s", ErrSecondKey, id)
	}
	if score > ledger.MaxStoredScore {
		return ledger.Entry{}, fmt.Errorf("%w: got %d", ledger.ErrScoreOutOfRange, score)
	}
	if _, err := c.load(id); err != nil {
		return ledger.Entry{}, err
	}
	e := ledger.OccupiedEntry(score, com)
	idc := id
	c.written = &idc
	c.overlay[id] = e
	c.fallible = append(c.fallible, entryOp(KindApply, id, e))
	return e.Clone(), nil
}

// SetModelHash buffers a new model hash and records a fallible write.
func (c *Context) SetModelHash(h ledger.ModelHash) error {
	if c.closed {
		return ErrClosed
	}
	if c.written != nil {
		return fmt.Errorf("%w: set model hash", ErrSecondKey)
	}
	if _, err := c.loadModel(); err != nil {
		return err
	}
	hh := h
	c.newModel = &hh
	c.fallible = append(c.fallible, modelOp(KindSetModelHash, h, c.origVersion+1))
	return nil
}

// #endregion writes

// #region finish
// Commit writes the buffered key to the store. A failed write leaves the
// fallible transcript empty, as after Abort.
func (c *Context) Commit() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.flush(); err != nil {
		c.Abort()
		return err
	}
	c.closed = true
	return nil
}

func (c *Context) flush() error {
	if c.written != nil {
		id := *c.written
		e := c.overlay[id]
		if _, err := c.store.Apply(id, *e.Score, *e.Commitment); err != nil {
			return fmt.Errorf("commit apply %s: %w", id, err)
		}
	}
	if c.newModel != nil {
		if err := c.store.SetModelHash(*c.newModel); err != nil {
			return fmt.Errorf("commit model hash: %w", err)
		}
	}
	return nil
}

// Abort drops buffered writes and the fallible transcript. Calling it on a
// closed context is a no-op.
func (c *Context) Abort() {
	if c.closed {
		return
	}
	c.closed = true
	c.overlay = make(map[ledger.Identity]ledger.Entry)
	c.written = nil
	c.newModel = nil
	c.fallible = []Op{}
}

// Transcript returns a copy of both operation lists.
func (c *Context) Transcript() Transcript {
	return Transcript{
		Guaranteed: append([]Op{}, c.guaranteed...),
		Fallible:   append([]Op{}, c.fallible...),
	}
}

// #endregion finish

func entryOp(k Kind, id ledger.Identity, e ledger.Entry) Op {
	idc := id
	ec := e.Clone()
	return Op{Kind: k, Identity: &idc, Entry: &ec}
}

func modelOp(k Kind, h ledger.ModelHash, version uint64) Op {
	hc, vc := h, version
	return Op{Kind: k, ModelHash: &hc, ModelVersion: &vc}
}
