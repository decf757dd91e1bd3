package engine

import (
	"sort"
	"testing"
)

// validateRB checks the red-black structure under idx: no red node has a
// red child, and every path to a leaf crosses the same number of black
// nodes. Returns the black height.
func validateRB(t *testing.T, m *Market, idx, parent uint32) int {
	t.Helper()
	if idx == NIL {
		return 1
	}
	if got := m.nodeParent(idx); got != parent {
		t.Fatalf("node %d parent = %d, want %d", idx, got, parent)
	}
	tr := tree{m: m}
	if tr.isRed(idx) && (tr.isRed(m.nodeLeft(idx)) || tr.isRed(m.nodeRight(idx))) {
		t.Fatalf("red node %d has a red child", idx)
	}
	lh := validateRB(t, m, m.nodeLeft(idx), idx)
	rh := validateRB(t, m, m.nodeRight(idx), idx)
	if lh != rh {
		t.Fatalf("node %d black heights differ: %d vs %d", idx, lh, rh)
	}
	if tr.isRed(idx) {
		return lh
	}
	return lh + 1
}

func TestAskTreeOrderAndBalance(t *testing.T) {
	const n = 64
	m := newTestMarket(t, n+2)
	if err := m.ClaimSeat(traderA); err != nil {
		t.Fatalf("claim: %v", err)
	}
	seatIdx := m.TraderIndex(traderA)

	// Insert n asks with a deterministic scrambled price sequence; several
	// collide on price so the sequence tie-break matters.
	var mantissas []uint32
	state := uint32(12345)
	var nodes []uint32
	for i := 0; i < n; i++ {
		state = state*1103515245 + 12345
		mant := state%97 + 1
		mantissas = append(mantissas, mant)
		idx, err := m.alloc(blockOrder)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		m.writeOrder(idx, uint64(i+1), seatIdx, Price{Mantissa: mant}, 1, Ask, Limit, NoExpiration, 0)
		m.insertOrder(idx)
		nodes = append(nodes, idx)
	}

	root := m.header().asksRoot()
	if tr := (tree{m: m}); tr.isRed(root) {
		t.Error("root is red")
	}
	validateRB(t, m, root, NIL)

	// In-order traversal must be (price asc, seq asc) and the cached best
	// must be the minimum.
	orders := m.Orders(Ask)
	if len(orders) != n {
		t.Fatalf("got %d orders, want %d", len(orders), n)
	}
	sorted := append([]uint32(nil), mantissas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i, o := range orders {
		if o.Price.Mantissa != sorted[i] {
			t.Fatalf("order %d price %d, want %d", i, o.Price.Mantissa, sorted[i])
		}
		if i > 0 && orders[i-1].Price.Mantissa == o.Price.Mantissa &&
			orders[i-1].Sequence > o.Sequence {
			t.Fatalf("FIFO violated at %d: seq %d before %d", i, orders[i-1].Sequence, o.Sequence)
		}
	}
	best, ok := m.BestAsk()
	if !ok || best.Price.Mantissa != sorted[0] {
		t.Fatalf("best ask %v, want mantissa %d", best, sorted[0])
	}

	// Remove every other node and re-validate.
	for i, idx := range nodes {
		if i%2 == 0 {
			m.unlinkOrder(idx)
			if err := m.free(idx, blockOrder); err != nil {
				t.Fatalf("free: %v", err)
			}
		}
	}
	validateRB(t, m, m.header().asksRoot(), NIL)
	if got := len(m.Orders(Ask)); got != n/2 {
		t.Fatalf("after removal: %d orders, want %d", got, n/2)
	}

	// Drain completely; the tree and its cached best must empty out.
	for i, idx := range nodes {
		if i%2 == 1 {
			m.unlinkOrder(idx)
			if err := m.free(idx, blockOrder); err != nil {
				t.Fatalf("free: %v", err)
			}
		}
	}
	if m.header().asksRoot() != NIL {
		t.Error("root not NIL after draining")
	}
	if _, ok := m.BestAsk(); ok {
		t.Error("best ask survives empty tree")
	}
	checkInvariants(t, m)
}

func TestBidTreeBestIsHighest(t *testing.T) {
	m := newTestMarket(t, 8)
	if err := m.ClaimSeat(traderA); err != nil {
		t.Fatalf("claim: %v", err)
	}
	seatIdx := m.TraderIndex(traderA)
	for i, mant := range []uint32{30, 10, 50, 20, 40} {
		idx, err := m.alloc(blockOrder)
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}
		m.writeOrder(idx, uint64(i+1), seatIdx, Price{Mantissa: mant}, 1, Bid, Limit, NoExpiration, 0)
		m.insertOrder(idx)
	}
	best, ok := m.BestBid()
	if !ok || best.Price.Mantissa != 50 {
		t.Fatalf("best bid %v, want 50", best)
	}
	orders := m.Orders(Bid)
	want := []uint32{50, 40, 30, 20, 10}
	for i, o := range orders {
		if o.Price.Mantissa != want[i] {
			t.Errorf("bid %d = %d, want %d", i, o.Price.Mantissa, want[i])
		}
	}
	// The rightmost node of the bid tree is the worst bid.
	tr := m.bidTree()
	if worst := tr.max(m.header().bidsRoot()); m.orderPrice(worst).Mantissa != 10 {
		t.Errorf("tree max = %d, want 10", m.orderPrice(worst).Mantissa)
	}
	validateRB(t, m, m.header().bidsRoot(), NIL)
}
