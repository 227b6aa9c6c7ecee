package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// PositionManager holds the positions of a single market, one per owner.
type PositionManager struct {
	market    string
	positions map[uuid.UUID]*Position
}

func NewPositionManager(market string) *PositionManager {
	return &PositionManager{
		market:    market,
		positions: make(map[uuid.UUID]*Position),
	}
}

// Get returns the live position of owner.
func (pm *PositionManager) Get(owner uuid.UUID) (*Position, bool) {
	pos, ok := pm.positions[owner]
	return pos, ok
}

// Stage returns a copy of owner's position, or a new flat one, for use in a
// staged transaction.
func (pm *PositionManager) Stage(owner uuid.UUID) *Position {
	if pos, ok := pm.positions[owner]; ok {
		return pos.Clone()
	}
	return NewPosition(owner, pm.market)
}

// Put commits a position. Flat positions with no margin left are destroyed.
func (pm *PositionManager) Put(pos *Position) {
	if pos.IsFlat() && pos.MarginPosted == 0 {
		delete(pm.positions, pos.Owner)
		return
	}
	pm.positions[pos.Owner] = pos
}

// Len returns the number of live positions.
func (pm *PositionManager) Len() int {
	return len(pm.positions)
}

// Owners returns owners with a live position in byte order of their IDs.
func (pm *PositionManager) Owners() []uuid.UUID {
	owners := make([]uuid.UUID, 0, len(pm.positions))
	for owner := range pm.positions {
		owners = append(owners, owner)
	}
	sortOwners(owners)
	return owners
}

// All returns live positions in owner order.
func (pm *PositionManager) All() []*Position {
	owners := pm.Owners()
	out := make([]*Position, len(owners))
	for i, owner := range owners {
		out[i] = pm.positions[owner]
	}
	return out
}

// OpenInterest is the larger of total long and total short size. Fills keep
// the two equal; a liquidation closes one side against clearing.
func (pm *PositionManager) OpenInterest() int64 {
	var long, short int64
	for _, pos := range pm.positions {
		switch pos.SideSign() {
		case 1:
			long += pos.Size
		case -1:
			short += pos.Size
		}
	}
	return max(long, short)
}

func sortOwners(owners []uuid.UUID) {
	sort.Slice(owners, func(i, j int) bool {
		return bytes.Compare(owners[i][:], owners[j][:]) < 0
	})
}
