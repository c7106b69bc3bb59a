// Package snapshot implements the periodic and on-demand point-in-time
// snapshotting service described in spec §4.R4: deep copies of orders,
// positions, and portfolio state, diffable and restorable for recovery.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Type is the kind of snapshot taken.
type Type string

const (
	TypeFull           Type = "FULL"
	TypeIncremental    Type = "INCREMENTAL"
	TypeCycleComplete  Type = "CYCLE_COMPLETE"
	TypeManual         Type = "MANUAL"
)

// Order is the minimal order shape the snapshot service copies. The
// execution engine in internal/prediction builds these from its pending
// orders in SnapshotOrders.
type Order struct {
	OrderID    string
	FilledQty  float64
	Status     string
	Raw        map[string]interface{}
}

// Position is the minimal position shape the snapshot service copies.
type Position struct {
	Symbol   string
	Quantity float64
	Side     string
	Raw      map[string]interface{}
}

// Metadata describes one snapshot.
type Metadata struct {
	ID        string
	Timestamp time.Time
	CycleID   string
	Type      Type
}

// Snapshot is an immutable point-in-time copy of orders/positions/portfolio.
type Snapshot struct {
	Metadata  Metadata
	Orders    []Order
	Positions []Position
	Portfolio map[string]interface{}
	Context   map[string]interface{}
}

// Source supplies the live state the service copies. Implemented by the
// prediction engine; kept as an interface so SnapshotService has no
// compile-time dependency on internal/prediction (avoids an import cycle).
type Source interface {
	SnapshotOrders() []Order
	SnapshotPositions() []Position
	SnapshotPortfolio() map[string]interface{}
}

// ColdStore is the optional archival tier for snapshots older than
// RetentionMs. Implemented by an S3-backed adapter in cmd/server wiring;
// nil disables archival and snapshots are simply pruned.
type ColdStore interface {
	Upload(ctx context.Context, key string, payload []byte) error
}

// Config configures a Service.
type Config struct {
	IntervalMs  int64
	MaxInMemory int
	RetentionMs int64
	ColdStore   ColdStore
}

// Service is the periodic + on-demand snapshot service of spec §4.R4.
type Service struct {
	mu   sync.RWMutex
	cfg  Config
	src  Source
	log  zerolog.Logger

	snapshots   []*Snapshot
	byID        map[string]*Snapshot
	lastFullAt  time.Time

	orderHistory    map[string][]Order
	positionHistory map[string][]Position

	stop chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

// New builds a snapshot service reading from src.
func New(cfg Config, src Source, log zerolog.Logger) *Service {
	if cfg.MaxInMemory <= 0 {
		cfg.MaxInMemory = 100
	}
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = 5 * 60 * 1000
	}
	return &Service{
		cfg:             cfg,
		src:             src,
		log:             log.With().Str("component", "snapshot_service").Logger(),
		byID:            make(map[string]*Snapshot),
		orderHistory:    make(map[string][]Order),
		positionHistory: make(map[string][]Position),
		now:             time.Now,
	}
}

// Start launches the periodic FULL-snapshot timer. Stop via Shutdown.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := s.CreateSnapshot(TypeFull, ""); err != nil {
					s.log.Error().Err(err).Msg("periodic snapshot failed")
				}
			}
		}
	}()
}

// Shutdown stops the periodic timer and takes one final FULL snapshot, per
// spec §6's graceful-shutdown sequence.
func (s *Service) Shutdown() (*Snapshot, error) {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
	return s.CreateSnapshot(TypeFull, "")
}

// CreateSnapshot copies the current orders/positions/portfolio from Source
// into a new snapshot. The Source calls run before s.mu is taken, so the
// source itself is responsible for returning already-copied slices and
// maps; s.mu is held only while the snapshot is recorded. The order and
// position slices are copied again here; their Raw maps and the portfolio
// map are not.
func (s *Service) CreateSnapshot(kind Type, cycleID string) (*Snapshot, error) {
	orders := s.src.SnapshotOrders()
	positions := s.src.SnapshotPositions()
	portfolio := s.src.SnapshotPortfolio()

	snap := &Snapshot{
		Metadata: Metadata{
			ID:        uuid.NewString(),
			Timestamp: s.now(),
			CycleID:   cycleID,
			Type:      kind,
		},
		Orders:    append([]Order(nil), orders...),
		Positions: append([]Position(nil), positions...),
		Portfolio: portfolio,
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	s.byID[snap.Metadata.ID] = snap
	if kind == TypeFull {
		s.lastFullAt = snap.Metadata.Timestamp
	}
	s.enforceMemoryLimitLocked()
	s.mu.Unlock()

	s.log.Info().Str("snapshot_id", snap.Metadata.ID).Str("type", string(kind)).Msg("snapshot created")
	return snap, nil
}

// enforceMemoryLimitLocked prunes the oldest snapshots by timestamp when
// over MaxInMemory or RetentionMs, archiving to ColdStore first when
// configured. Caller must hold s.mu.
func (s *Service) enforceMemoryLimitLocked() {
	sort.Slice(s.snapshots, func(i, j int) bool {
		return s.snapshots[i].Metadata.Timestamp.Before(s.snapshots[j].Metadata.Timestamp)
	})

	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionMs) * time.Millisecond)
	kept := s.snapshots[:0]
	for _, snap := range s.snapshots {
		expired := s.cfg.RetentionMs > 0 && snap.Metadata.Timestamp.Before(cutoff)
		if !expired {
			kept = append(kept, snap)
			continue
		}
		s.archive(snap)
		delete(s.byID, snap.Metadata.ID)
	}
	s.snapshots = kept

	for len(s.snapshots) > s.cfg.MaxInMemory {
		oldest := s.snapshots[0]
		s.archive(oldest)
		delete(s.byID, oldest.Metadata.ID)
		s.snapshots = s.snapshots[1:]
	}
}

func (s *Service) archive(snap *Snapshot) {
	if s.cfg.ColdStore == nil {
		return
	}
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode snapshot for archival")
		return
	}
	key := fmt.Sprintf("snapshots/%s/%s.msgpack", snap.Metadata.Type, snap.Metadata.ID)
	if err := s.cfg.ColdStore.Upload(context.Background(), key, payload); err != nil {
		s.log.Error().Err(err).Str("snapshot_id", snap.Metadata.ID).Msg("snapshot archival failed")
	}
}

// SnapshotOrder appends a point-in-time copy of one order to its
// orderId-indexed history.
func (s *Service) SnapshotOrder(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderHistory[o.OrderID] = append(s.orderHistory[o.OrderID], o)
}

// SnapshotPosition appends a point-in-time copy of one position to its
// symbol-indexed history.
func (s *Service) SnapshotPosition(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionHistory[p.Symbol] = append(s.positionHistory[p.Symbol], p)
}

// Restorer applies a snapshot's orders/positions back onto live state.
// Restore must be idempotent: applying the same snapshot twice must not
// double-apply already-applied positions.
type Restorer interface {
	Restore(snap *Snapshot) error
}

// RestoreFromSnapshot reconstitutes state from the in-memory snapshot with
// the given id via dst.Restore. Returns an error if the snapshot is not
// held in memory (no persistence collaborator is wired in this module —
// spec §1 treats the backing store as out of scope).
func (s *Service) RestoreFromSnapshot(id string, dst Restorer) error {
	snap, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("snapshot: %s not found in memory", id)
	}
	return dst.Restore(snap)
}

// Get returns the snapshot with the given id, if still in memory.
func (s *Service) Get(id string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[id]
	return snap, ok
}

// LastFullAt reports when the last FULL snapshot was taken.
func (s *Service) LastFullAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFullAt
}

// Diff is the {added, removed, changed} triad for one entity kind.
type Diff struct {
	Added   []string
	Removed []string
	Changed []string
}

// CompareResult is the output of CompareSnapshots.
type CompareResult struct {
	Orders    Diff
	Positions Diff
}

// CompareSnapshots diffs two snapshots. "changed" for orders is detected by
// (filledQty, status); for positions by (quantity, side).
func CompareSnapshots(a, b *Snapshot) CompareResult {
	result := CompareResult{}

	aOrders := make(map[string]Order, len(a.Orders))
	for _, o := range a.Orders {
		aOrders[o.OrderID] = o
	}
	bOrders := make(map[string]Order, len(b.Orders))
	for _, o := range b.Orders {
		bOrders[o.OrderID] = o
	}
	for id, bo := range bOrders {
		ao, existed := aOrders[id]
		if !existed {
			result.Orders.Added = append(result.Orders.Added, id)
			continue
		}
		if ao.FilledQty != bo.FilledQty || ao.Status != bo.Status {
			result.Orders.Changed = append(result.Orders.Changed, id)
		}
	}
	for id := range aOrders {
		if _, stillThere := bOrders[id]; !stillThere {
			result.Orders.Removed = append(result.Orders.Removed, id)
		}
	}

	aPos := make(map[string]Position, len(a.Positions))
	for _, p := range a.Positions {
		aPos[p.Symbol] = p
	}
	bPos := make(map[string]Position, len(b.Positions))
	for _, p := range b.Positions {
		bPos[p.Symbol] = p
	}
	for sym, bp := range bPos {
		ap, existed := aPos[sym]
		if !existed {
			result.Positions.Added = append(result.Positions.Added, sym)
			continue
		}
		if ap.Quantity != bp.Quantity || ap.Side != bp.Side {
			result.Positions.Changed = append(result.Positions.Changed, sym)
		}
	}
	for sym := range aPos {
		if _, stillThere := bPos[sym]; !stillThere {
			result.Positions.Removed = append(result.Positions.Removed, sym)
		}
	}

	sortAll(&result)
	return result
}

func sortAll(r *CompareResult) {
	sort.Strings(r.Orders.Added)
	sort.Strings(r.Orders.Removed)
	sort.Strings(r.Orders.Changed)
	sort.Strings(r.Positions.Added)
	sort.Strings(r.Positions.Removed)
	sort.Strings(r.Positions.Changed)
}
