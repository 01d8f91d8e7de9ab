// Package region implements Region Meta and epoch validation (spec.md
// section 3, 4.6). Grounded on talent-plan-tinykv/tikv/region.go's
// regionCtx (epoch/range fields, range-check helpers) and
// kv/raftstore/util/util.go's CheckKeyInRegion / CheckRegionEpoch /
// IsEpochStale for the boundary-check and epoch-comparison idiom.
package region

import (
	"bytes"
	"sync"

	"github.com/visualYJD/dingo-store/errcode"
)

// State is a Region's lifecycle state (spec 3).
type State int

const (
	StateNew State = iota
	StateNormal
	StateSplitting
	StateMerging
	StateTombstone
	StateDeleting
	StateDeleted
)

// Epoch identifies a Region's logical configuration. version increases on
// every range mutation (split/merge); conf_version increases on peer
// configuration changes (spec 3).
type Epoch struct {
	Version     uint64
	ConfVersion uint64
}

// Peer is one replica of a Region, out-of-scope detail carried only so
// Meta.Peers round-trips; the Raft layer that actually manages peers is an
// external collaborator per spec.md section 1.
type Peer struct {
	ID      uint64
	StoreID uint64
}

// Meta is a Region's metadata (spec 3): id, epoch, range, peers, state,
// engine types, and the two monotone watermarks used by the txn/gc paths.
type Meta struct {
	mu sync.RWMutex

	ID       uint64
	Epoch    Epoch
	StartKey []byte
	EndKey   []byte // empty means unbounded
	Peers    []Peer
	State    State

	RawEngineType   string
	StoreEngineType string

	// DisableChange / TemporaryDisableChange gate writes while Splitting or
	// Merging (spec 3).
	DisableChange          bool
	TemporaryDisableChange bool

	// RawAppliedMaxTS is monotone non-decreasing (spec 3 invariant).
	RawAppliedMaxTS uint64
	// TxnAccessMaxTS tracks the highest start_ts/commit_ts observed by the
	// txn engine for this region, used to bound GC and CheckTxnStatus.
	TxnAccessMaxTS uint64
}

// NewMeta builds a Region in state New over [startKey, endKey).
func NewMeta(id uint64, startKey, endKey []byte, peers []Peer) *Meta {
	return &Meta{
		ID:       id,
		Epoch:    Epoch{Version: 1, ConfVersion: 1},
		StartKey: append([]byte(nil), startKey...),
		EndKey:   append([]byte(nil), endKey...),
		Peers:    peers,
		State:    StateNew,
	}
}

// Snapshot returns a lock-free-readable copy of the epoch/range/state,
// matching the "atomic pointer swap" model spec.md section 5 calls for.
type Snapshot struct {
	ID       uint64
	Epoch    Epoch
	StartKey []byte
	EndKey   []byte
	State    State
}

func (m *Meta) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		ID:       m.ID,
		Epoch:    m.Epoch,
		StartKey: m.StartKey,
		EndKey:   m.EndKey,
		State:    m.State,
	}
}

// ContainsKey reports whether an already-MVCC-encoded key falls in
// [StartKey, EndKey). Per DESIGN.md's Open Question decision, region
// boundary checks always operate on encoded keys; callers convert once at
// the RPC boundary.
func (m *Meta) ContainsKey(encodedKey []byte) bool {
	s := m.Snapshot()
	if bytes.Compare(encodedKey, s.StartKey) < 0 {
		return false
	}
	if len(s.EndKey) > 0 && bytes.Compare(encodedKey, s.EndKey) >= 0 {
		return false
	}
	return true
}

// CheckEpoch validates a request's epoch against the current one,
// mirroring kv/raftstore/util.CheckRegionEpoch's strict equality check
// (not just staleness): any mismatch, forward or backward, must be
// rejected so the client refreshes routing rather than reading a stale
// snapshot after a completed split/merge.
func (m *Meta) CheckEpoch(reqEpoch Epoch) *errcode.Error {
	s := m.Snapshot()
	if reqEpoch.Version != s.Epoch.Version || reqEpoch.ConfVersion != s.Epoch.ConfVersion {
		return &errcode.Error{
			Code: errcode.EpochNotMatch,
			CurrentEpoch: &errcode.EpochInfo{
				Version:     s.Epoch.Version,
				ConfVersion: s.Epoch.ConfVersion,
				StartKey:    s.StartKey,
				EndKey:      s.EndKey,
				RegionID:    s.ID,
			},
		}
	}
	return nil
}

// CheckWritable enforces the Splitting/Merging admission rule from spec 3:
// a region mid-split/merge may reject new writes depending on its disable
// flags.
func (m *Meta) CheckWritable() *errcode.Error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if (m.State == StateSplitting || m.State == StateMerging) &&
		(m.DisableChange || m.TemporaryDisableChange) {
		return errcode.New(errcode.RegionNotReady)
	}
	if m.State == StateTombstone || m.State == StateDeleting || m.State == StateDeleted {
		return errcode.New(errcode.RegionNotFound)
	}
	return nil
}

// TransitionTo moves the region to a new state and, for split/merge
// completions, bumps epoch.Version (spec 3: "epoch.version increases on
// every range mutation").
func (m *Meta) TransitionTo(state State, newRange *struct{ Start, End []byte }) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.State = state
	if newRange != nil {
		m.StartKey = newRange.Start
		m.EndKey = newRange.End
		m.Epoch.Version++
	}
}

// BumpConfVersion records a peer configuration change.
func (m *Meta) BumpConfVersion(peers []Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Peers = peers
	m.Epoch.ConfVersion++
}

// AdvanceAppliedTS enforces the monotone-non-decreasing invariant on
// RawAppliedMaxTS (spec 3).
func (m *Meta) AdvanceAppliedTS(ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts > m.RawAppliedMaxTS {
		m.RawAppliedMaxTS = ts
	}
	if ts > m.TxnAccessMaxTS {
		m.TxnAccessMaxTS = ts
	}
}
