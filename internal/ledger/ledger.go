// Package ledger is the authoritative balance table of a fixed-supply fungible token.
//
// A Ledger is created once with its whole supply credited to the owner and afterwards
// only Transfer mutates it. Every successful transfer produces exactly one Event, which
// is appended to the ledger's log inside the same critical section as the balance
// change and then delivered to subscribers in commit order.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is the record of one committed transfer.
type Event struct {
	Seq   uint64
	From  common.Address
	To    common.Address
	Value *uint256.Int
}

func (e Event) clone() Event {
	e.Value = e.Value.Clone()
	return e
}

// Config is the construction-time configuration.
type Config struct {
	TotalSupply *uint256.Int
	Owner       common.Address
}

// Snapshot is a consistent copy of the whole ledger state.
type Snapshot struct {
	TotalSupply *uint256.Int
	Owner       common.Address
	Balances    map[common.Address]*uint256.Int
	LastSeq     uint64
}

// Transition describes a prepared but not yet applied transfer.
// For a self-transfer the To fields describe the increment applied after the decrement.
type Transition struct {
	Event      Event
	FromBefore *uint256.Int
	FromAfter  *uint256.Int
	ToBefore   *uint256.Int
	ToAfter    *uint256.Int
}

// Journal durably records a transition. Commit runs while the ledger holds its write
// lock; if it fails the transfer is aborted and nothing is applied.
type Journal interface {
	Commit(ctx context.Context, t *Transition) error
}

type Option func(*Ledger)

// WithJournal makes every transfer commit to j before it is applied.
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

// RejectZeroRecipient forbids transfers to the zero address.
func RejectZeroRecipient() Option {
	return func(l *Ledger) {
		l.rejectZeroRecipient = true
	}
}

// WithEventLogLimit keeps only the n most recent events in memory. A ledger whose
// history is served from a persistent journal can use a small n; n <= 0 keeps none.
func WithEventLogLimit(n int) Option {
	return func(l *Ledger) {
		if n < 0 {
			n = 0
		}
		l.eventLimit = n
		l.eventLimited = true
	}
}

// WithSubscriberPanicHandler receives the value recovered from a panicking subscriber.
// The event is still delivered to the remaining subscribers.
func WithSubscriberPanicHandler(fn func(e Event, recovered any)) Option {
	return func(l *Ledger) {
		l.onSubscriberPanic = fn
	}
}

type subscriber struct {
	id uint64
	fn func(Event)
}

type Ledger struct {
	mu          sync.RWMutex
	totalSupply *uint256.Int
	owner       common.Address
	balances    map[common.Address]*uint256.Int
	events      []Event
	lastSeq     uint64

	eventLimit   int
	eventLimited bool

	journal             Journal
	rejectZeroRecipient bool

	// deliverMu is taken before mu is released so deliveries keep commit order.
	deliverMu         sync.Mutex
	subMu             sync.RWMutex
	subscribers       []subscriber
	nextSubID         uint64
	onSubscriberPanic func(Event, any)
}

// New creates a ledger with cfg.TotalSupply credited to cfg.Owner.
func New(cfg Config, opts ...Option) (*Ledger, error) {
	if cfg.TotalSupply == nil {
		return nil, fmt.Errorf("%w: total supply is required", ErrInvalidArgument)
	}
	if cfg.Owner == (common.Address{}) && !cfg.TotalSupply.IsZero() {
		return nil, fmt.Errorf("%w: owner must not be the zero address", ErrInvalidArgument)
	}

	l := newLedger(cfg.TotalSupply, cfg.Owner, opts)
	if !cfg.TotalSupply.IsZero() {
		l.balances[cfg.Owner] = cfg.TotalSupply.Clone()
	}
	return l, nil
}

// Restore rebuilds a ledger from persisted state and verifies conservation.
func Restore(snap Snapshot, opts ...Option) (*Ledger, error) {
	if snap.TotalSupply == nil {
		return nil, fmt.Errorf("%w: total supply is required", ErrInvalidArgument)
	}

	l := newLedger(snap.TotalSupply, snap.Owner, opts)
	for addr, bal := range snap.Balances {
		if bal == nil {
			continue
		}
		l.balances[addr] = bal.Clone()
	}
	l.lastSeq = snap.LastSeq

	if err := l.checkLocked(); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return l, nil
}

func newLedger(totalSupply *uint256.Int, owner common.Address, opts []Option) *Ledger {
	l := &Ledger{
		totalSupply: totalSupply.Clone(),
		owner:       owner,
		balances:    make(map[common.Address]*uint256.Int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) TotalSupply() *uint256.Int {
	return l.totalSupply.Clone()
}

func (l *Ledger) Owner() common.Address {
	return l.owner
}

// BalanceOf returns the balance of account, zero if it has never held anything.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(account).Clone()
}

func (l *Ledger) balanceLocked(account common.Address) *uint256.Int {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return new(uint256.Int)
}

// Transfer moves amount from from to to and returns the emitted event.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) (Event, error) {
	if amount == nil {
		return Event{}, fmt.Errorf("%w: amount is required", ErrInvalidArgument)
	}
	if l.rejectZeroRecipient && to == (common.Address{}) {
		return Event{}, fmt.Errorf("%w: transfer to the zero address", ErrInvalidArgument)
	}

	l.mu.Lock()
	t, err := l.prepareLocked(from, to, amount.Clone())
	if err == nil && l.journal != nil {
		if cerr := l.journal.Commit(ctx, t); cerr != nil {
			err = fmt.Errorf("ledger: journal commit: %w", cerr)
		}
	}
	if err != nil {
		l.mu.Unlock()
		return Event{}, err
	}
	l.applyLocked(t)
	l.deliver(t.Event)

	return t.Event.clone(), nil
}

// deliver is entered with mu held and releases it once delivery order is secured.
func (l *Ledger) deliver(e Event) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	l.mu.Unlock()
	l.notify(e)
}

func (l *Ledger) prepareLocked(from, to common.Address, value *uint256.Int) (*Transition, error) {
	fromBefore := l.balanceLocked(from).Clone()
	if fromBefore.Lt(value) {
		return nil, fmt.Errorf("%w: %s holds %s, transfer needs %s",
			ErrInsufficientBalance, from.Hex(), fromBefore.Dec(), value.Dec())
	}

	fromAfter, underflow := new(uint256.Int).SubOverflow(fromBefore, value)
	if underflow {
		return nil, fmt.Errorf("%w: balance of %s underflows", ErrInvariantViolation, from.Hex())
	}

	toBefore := fromAfter.Clone()
	if from != to {
		toBefore = l.balanceLocked(to).Clone()
	}
	toAfter, overflow := new(uint256.Int).AddOverflow(toBefore, value)
	if overflow {
		return nil, fmt.Errorf("%w: balance of %s overflows", ErrInvariantViolation, to.Hex())
	}
	if from == to && !toAfter.Eq(fromBefore) {
		return nil, fmt.Errorf("%w: self-transfer changed balance of %s", ErrInvariantViolation, from.Hex())
	}

	return &Transition{
		Event: Event{
			Seq:   l.lastSeq + 1,
			From:  from,
			To:    to,
			Value: value,
		},
		FromBefore: fromBefore,
		FromAfter:  fromAfter,
		ToBefore:   toBefore,
		ToAfter:    toAfter,
	}, nil
}

func (l *Ledger) applyLocked(t *Transition) {
	l.setLocked(t.Event.From, t.FromAfter)
	l.setLocked(t.Event.To, t.ToAfter)
	l.appendEventLocked(t.Event.clone())
	l.lastSeq = t.Event.Seq
}

func (l *Ledger) appendEventLocked(e Event) {
	if !l.eventLimited {
		l.events = append(l.events, e)
		return
	}
	if l.eventLimit == 0 {
		return
	}
	if len(l.events) >= l.eventLimit {
		// drop the oldest; append reallocates over the live window only
		l.events = l.events[len(l.events)-l.eventLimit+1:]
	}
	l.events = append(l.events, e)
}

// setLocked keeps existing entries at zero but never materializes a new zero entry.
func (l *Ledger) setLocked(account common.Address, bal *uint256.Int) {
	if _, ok := l.balances[account]; !ok && bal.IsZero() {
		return
	}
	l.balances[account] = bal.Clone()
}

// Subscribe registers fn for every event committed after the call.
// fn runs synchronously in commit order and must not call Transfer. A panic in fn
// is recovered and reported to the WithSubscriberPanicHandler option.
func (l *Ledger) Subscribe(fn func(Event)) (unsubscribe func()) {
	l.subMu.Lock()
	l.nextSubID++
	id := l.nextSubID
	l.subscribers = append(l.subscribers, subscriber{id: id, fn: fn})
	l.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subMu.Lock()
			defer l.subMu.Unlock()
			for i, s := range l.subscribers {
				if s.id == id {
					l.subscribers = append(l.subscribers[:i:i], l.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *Ledger) notify(e Event) {
	l.subMu.RLock()
	subs := make([]subscriber, len(l.subscribers))
	copy(subs, l.subscribers)
	l.subMu.RUnlock()

	for _, s := range subs {
		l.call(s, e)
	}
}

func (l *Ledger) call(s subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil && l.onSubscriberPanic != nil {
			l.onSubscriberPanic(e.clone(), r)
		}
	}()
	s.fn(e.clone())
}

// Events returns up to limit committed events with Seq greater than since.
// A non-positive limit returns all of them. With WithEventLogLimit only the
// retained window is searched.
func (l *Ledger) Events(since uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].Seq > since
	})
	end := len(l.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]Event, 0, end-start)
	for _, e := range l.events[start:end] {
		out = append(out, e.clone())
	}
	return out
}

func (l *Ledger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	balances := make(map[common.Address]*uint256.Int, len(l.balances))
	for addr, bal := range l.balances {
		balances[addr] = bal.Clone()
	}
	return Snapshot{
		TotalSupply: l.totalSupply.Clone(),
		Owner:       l.owner,
		Balances:    balances,
		LastSeq:     l.lastSeq,
	}
}

// CheckInvariants verifies that the balances sum to the total supply.
func (l *Ledger) CheckInvariants() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkLocked()
}

func (l *Ledger) checkLocked() error {
	sum := new(uint256.Int)
	for addr, bal := range l.balances {
		if _, overflow := sum.AddOverflow(sum, bal); overflow {
			return fmt.Errorf("%w: balance sum overflows at %s", ErrInvariantViolation, addr.Hex())
		}
	}
	if !sum.Eq(l.totalSupply) {
		return fmt.Errorf("%w: balances sum to %s, total supply is %s",
			ErrInvariantViolation, sum.Dec(), l.totalSupply.Dec())
	}
	if l.rejectZeroRecipient {
		if bal, ok := l.balances[common.Address{}]; ok && !bal.IsZero() {
			return fmt.Errorf("%w: zero address holds %s", ErrInvariantViolation, bal.Dec())
		}
	}
	return nil
}
