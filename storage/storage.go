// (c) 2024, SVM Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

const (
	// PageSize is the fixed size of one logical storage page.
	PageSize = 4096
)

var (
	ErrConcurrentAccess = errors.New("transaction already open for app")
	ErrCommitFailed     = errors.New("commit failed")
	ErrPageOutOfRange   = errors.New("page index out of range")
	ErrPageTooLarge     = errors.New("page data exceeds page size")
	ErrClosed           = errors.New("transaction closed")
)

// PageKey returns the KV key backing (app, page). The encoding is fixed:
// sha256(app || bigEndian32(page)). Both inputs are fixed-width, so the
// preimage is injective and the key reproduces byte-exactly across
// restarts.
func PageKey(app ids.ID, page uint32) []byte {
	preimage := make([]byte, len(app)+4)
	copy(preimage, app[:])
	binary.BigEndian.PutUint32(preimage[len(app):], page)
	return hashing.ComputeHash256(preimage)
}

// PageStore maps app state pages onto a key-value database and hands out
// per-app transactions. At most one transaction may be open per app at a
// time; transactions on distinct apps are independent.
type PageStore struct {
	db database.Database

	lock sync.Mutex
	open map[ids.ID]struct{}
}

func NewPageStore(db database.Database) *PageStore {
	return &PageStore{
		db:   db,
		open: make(map[ids.ID]struct{}),
	}
}

// Open starts a transaction over [app]'s pages. It fails immediately with
// ErrConcurrentAccess if a transaction is already open for [app]; callers
// retry or reject, nothing queues.
func (ps *PageStore) Open(app ids.ID, pageCount uint32) (*Transaction, error) {
	ps.lock.Lock()
	defer ps.lock.Unlock()

	if _, ok := ps.open[app]; ok {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentAccess, app)
	}
	ps.open[app] = struct{}{}

	return &Transaction{
		ps:        ps,
		app:       app,
		pageCount: pageCount,
		staged:    make(map[uint32][]byte),
	}, nil
}

func (ps *PageStore) release(app ids.ID) {
	ps.lock.Lock()
	defer ps.lock.Unlock()
	delete(ps.open, app)
}

// Transaction is an in-memory overlay of one app's staged page writes.
// Reads consult the overlay first, then the committed database, and fall
// back to an all-zero page. Writes touch only the overlay until Commit.
type Transaction struct {
	ps        *PageStore
	app       ids.ID
	pageCount uint32
	staged    map[uint32][]byte
	closed    bool
}

// App returns the address whose pages this transaction covers.
func (t *Transaction) App() ids.ID { return t.app }

// ReadPage returns the current value of page [idx]: the staged value if
// one exists, else the committed value, else a zero page. The result is
// always exactly PageSize bytes and is owned by the caller.
func (t *Transaction) ReadPage(idx uint32) ([]byte, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if idx >= t.pageCount {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, idx, t.pageCount)
	}

	if data, ok := t.staged[idx]; ok {
		out := make([]byte, PageSize)
		copy(out, data)
		return out, nil
	}

	data, err := t.ps.db.Get(PageKey(t.app, idx))
	switch {
	case err == nil:
		out := make([]byte, PageSize)
		copy(out, data)
		return out, nil
	case errors.Is(err, database.ErrNotFound):
		return make([]byte, PageSize), nil
	default:
		return nil, err
	}
}

// WritePage stages [data] as the new value of page [idx], zero-padded to
// PageSize. The database is untouched until Commit.
func (t *Transaction) WritePage(idx uint32, data []byte) error {
	if t.closed {
		return ErrClosed
	}
	if idx >= t.pageCount {
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, idx, t.pageCount)
	}
	if len(data) > PageSize {
		return fmt.Errorf("%w: %d bytes", ErrPageTooLarge, len(data))
	}

	page := make([]byte, PageSize)
	copy(page, data)
	t.staged[idx] = page
	return nil
}

// Commit flushes every staged page to the database in a single atomic
// batch, then closes the transaction. On failure the database is
// unchanged and the error wraps ErrCommitFailed.
func (t *Transaction) Commit() error {
	if t.closed {
		return ErrClosed
	}

	batch := t.ps.db.NewBatch()
	for idx, data := range t.staged {
		if err := batch.Put(PageKey(t.app, idx), data); err != nil {
			return fmt.Errorf("%w: %s", ErrCommitFailed, err)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: %s", ErrCommitFailed, err)
	}

	log.Debug("committed storage transaction", "app", t.app, "pages", len(t.staged))

	t.close()
	return nil
}

// Abort discards the overlay without touching the database. It is always
// safe, including after Commit or a prior Abort.
func (t *Transaction) Abort() {
	if t.closed {
		return
	}
	log.Debug("aborted storage transaction", "app", t.app, "pages", len(t.staged))
	t.close()
}

func (t *Transaction) close() {
	t.closed = true
	t.staged = nil
	t.ps.release(t.app)
}
