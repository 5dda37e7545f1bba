package protocol

import (
	"sync"

	"github.com/josephquek/janusgo/pkg/models"
)

// PendingReply is the single-slot delivery point for one outstanding
// transaction. Exactly one of Resolve or Reject ever fires, at most once.
type PendingReply struct {
	Resolve chan *models.Message
	Reject  chan error
}

// TransactionTable maps an outstanding transaction token to its pending
// slot. Entries are created immediately before a request is written and
// removed by the first matching reply, by timeout, or by connection loss.
type TransactionTable struct {
	mu      sync.Mutex
	pending map[string]*PendingReply
}

func NewTransactionTable() *TransactionTable {
	return &TransactionTable{
		pending: make(map[string]*PendingReply),
	}
}

// Register creates a pending slot for a transaction. Returns false if the
// token is already tracked, which would break single fulfillment.
func (t *TransactionTable) Register(transaction string) (*PendingReply, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[transaction]; exists {
		return nil, false
	}

	slot := &PendingReply{
		Resolve: make(chan *models.Message, 1),
		Reject:  make(chan error, 1),
	}
	t.pending[transaction] = slot
	return slot, true
}

// Complete delivers the terminal synchronous reply for a transaction and
// removes its slot. Returns false if the transaction is not pending, in
// which case the frame belongs to event routing instead.
func (t *TransactionTable) Complete(transaction string, msg *models.Message) bool {
	t.mu.Lock()
	slot, exists := t.pending[transaction]
	if exists {
		delete(t.pending, transaction)
	}
	t.mu.Unlock()

	if !exists {
		return false
	}

	// The slot is buffered and already unreachable; this never blocks.
	slot.Resolve <- msg
	return true
}

// Remove discards a pending slot without delivering anything. Used on the
// timeout and cancellation paths: a reply arriving afterwards falls through
// to event routing or is dropped as unroutable.
func (t *TransactionTable) Remove(transaction string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[transaction]; !exists {
		return false
	}
	delete(t.pending, transaction)
	return true
}

// FailAll rejects every pending transaction with err and empties the
// table. Called on connection loss.
func (t *TransactionTable) FailAll(err error) int {
	t.mu.Lock()
	failed := t.pending
	t.pending = make(map[string]*PendingReply)
	t.mu.Unlock()

	for _, slot := range failed {
		slot.Reject <- err
	}
	return len(failed)
}

// Len returns the number of outstanding transactions.
func (t *TransactionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
