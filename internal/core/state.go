package core

import "sync"

// EngineState is the process-wide mutable state spec.md §3 describes as
// "guarded by a single reentrant mutex". Go's sync.Mutex is not reentrant,
// so instead of replicating the original's re-entrant lock, every exported
// method here acquires the lock exactly once; nothing in this package calls
// another locking method while holding it, which sidesteps the need for
// reentrancy entirely (the idiomatic Go substitute for the teacher's own
// single-mutex state guards in internal/trading/orchestrator).
//
// EngineState is explicitly constructed and owned by the Coordinator and
// passed by reference to every component — spec.md §9's "do not use
// ambient globals".
type EngineState struct {
	mu sync.Mutex

	activeOrders map[string]*LevelOrder // order_id -> order
	levelToOID   map[int]string         // level_index -> order_id

	paused          bool
	requoteAll      bool
	running         bool

	ledger Ledger
}

// NewEngineState builds a freshly-running, unpaused engine state.
func NewEngineState() *EngineState {
	return &EngineState{
		activeOrders: make(map[string]*LevelOrder),
		levelToOID:   make(map[int]string),
		running:      true,
	}
}

// Snapshot is a point-in-time, lock-free copy of the fields callers need to
// read without holding the state lock across I/O.
type Snapshot struct {
	ActiveOrders map[string]*LevelOrder
	LevelToOID   map[int]string
	Paused       bool
	RequoteAll   bool
	Running      bool
	Ledger       Ledger
}

// Snapshot returns a deep-enough copy (orders themselves are copied by
// value) for callers to read consistently without the lock.
func (s *EngineState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make(map[string]*LevelOrder, len(s.activeOrders))
	for id, o := range s.activeOrders {
		cp := *o
		orders[id] = &cp
	}
	levels := make(map[int]string, len(s.levelToOID))
	for lv, id := range s.levelToOID {
		levels[lv] = id
	}
	return Snapshot{
		ActiveOrders: orders,
		LevelToOID:   levels,
		Paused:       s.paused,
		RequoteAll:   s.requoteAll,
		Running:      s.running,
		Ledger:       s.ledger,
	}
}

// AddOrder registers a new live order under the state lock, enforcing the
// bijection invariant between active_orders and level_to_oid (spec.md §4.6).
func (s *EngineState) AddOrder(order *LevelOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrders[order.OrderID] = order
	s.levelToOID[order.LevelIndex] = order.OrderID
}

// RemoveOrder deletes an order from both maps, preserving the bijection.
func (s *EngineState) RemoveOrder(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.activeOrders[orderID]
	if !ok {
		return
	}
	delete(s.activeOrders, orderID)
	if s.levelToOID[order.LevelIndex] == orderID {
		delete(s.levelToOID, order.LevelIndex)
	}
}

// Order returns a copy of the live order for orderID, if any.
func (s *EngineState) Order(orderID string) (LevelOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.activeOrders[orderID]
	if !ok {
		return LevelOrder{}, false
	}
	return *o, true
}

// OrderAtLevel returns the live order id quoted at lv, if any.
func (s *EngineState) OrderAtLevel(lv int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.levelToOID[lv]
	return id, ok
}

// MutateOrder applies fn to the order under the state lock. fn must not
// call back into EngineState.
func (s *EngineState) MutateOrder(orderID string, fn func(*LevelOrder)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.activeOrders[orderID]
	if !ok {
		return false
	}
	fn(o)
	return true
}

// AllOrderIDs returns every currently active order id.
func (s *EngineState) AllOrderIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.activeOrders))
	for id := range s.activeOrders {
		ids = append(ids, id)
	}
	return ids
}

// ClearOrders empties both maps at once (used after a full-ladder cancel).
func (s *EngineState) ClearOrders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeOrders = make(map[string]*LevelOrder)
	s.levelToOID = make(map[int]string)
}

func (s *EngineState) SetPaused(p bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = p
}

func (s *EngineState) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *EngineState) SetRunning(r bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = r
}

func (s *EngineState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetRequoteAll sets the one-shot re-quote flag, spec.md §3.
func (s *EngineState) SetRequoteAll(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requoteAll = v
}

// TakeRequoteAll reads and clears the flag atomically (§4.5 step 7: "If
// requote_all_levels is set, clear it...").
func (s *EngineState) TakeRequoteAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.requoteAll
	s.requoteAll = false
	return v
}

// Ledger returns a copy of the ledger counters.
func (s *EngineState) Ledger() Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger
}

// MutateLedger applies fn to the ledger under the state lock.
func (s *EngineState) MutateLedger(fn func(*Ledger)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.ledger)
}
