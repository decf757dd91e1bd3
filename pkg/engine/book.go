package engine

// The order book is two embedded trees sharing the order block format and
// differing only by comparator. The leftmost node of each tree is the best
// order for that side; the header caches both best indices so price queries
// never descend the tree.

func (m *Market) bidTree() tree {
	return tree{m: m, less: func(a, b uint32) bool {
		cmp := m.orderPrice(a).Cmp(m.orderPrice(b))
		if cmp != 0 {
			return cmp > 0 // higher bid is better
		}
		return m.orderSeq(a) < m.orderSeq(b) // FIFO within a level
	}}
}

func (m *Market) askTree() tree {
	return tree{m: m, less: func(a, b uint32) bool {
		cmp := m.orderPrice(a).Cmp(m.orderPrice(b))
		if cmp != 0 {
			return cmp < 0 // lower ask is better
		}
		return m.orderSeq(a) < m.orderSeq(b)
	}}
}

func (m *Market) bookTree(side Side) tree {
	if side == Bid {
		return m.bidTree()
	}
	return m.askTree()
}

func (m *Market) bookRoot(side Side) uint32 {
	if side == Bid {
		return m.header().bidsRoot()
	}
	return m.header().asksRoot()
}

func (m *Market) setBookRoot(side Side, v uint32) {
	if side == Bid {
		m.header().setBidsRoot(v)
	} else {
		m.header().setAsksRoot(v)
	}
}

func (m *Market) bookBest(side Side) uint32 {
	if side == Bid {
		return m.header().bidsBest()
	}
	return m.header().asksBest()
}

func (m *Market) setBookBest(side Side, v uint32) {
	if side == Bid {
		m.header().setBidsBest(v)
	} else {
		m.header().setAsksBest(v)
	}
}

// insertOrder links an order block into its side's tree and refreshes the
// cached best index.
func (m *Market) insertOrder(idx uint32) {
	side := m.orderSide(idx)
	t := m.bookTree(side)
	root := t.insert(m.bookRoot(side), idx)
	m.setBookRoot(side, root)
	m.setBookBest(side, t.min(root))
}

// unlinkOrder removes an order block from its side's tree and refreshes the
// cached best index. The block is not freed.
func (m *Market) unlinkOrder(idx uint32) {
	side := m.orderSide(idx)
	t := m.bookTree(side)
	root := t.remove(m.bookRoot(side), idx)
	m.setBookRoot(side, root)
	m.setBookBest(side, t.min(root))
}

// BestBid returns the top of the bid book.
func (m *Market) BestBid() (Order, bool) {
	idx := m.header().bidsBest()
	if idx == NIL {
		return Order{}, false
	}
	return m.orderSnapshot(idx), true
}

// BestAsk returns the top of the ask book.
func (m *Market) BestAsk() (Order, bool) {
	idx := m.header().asksBest()
	if idx == NIL {
		return Order{}, false
	}
	return m.orderSnapshot(idx), true
}

// Orders returns every resting order on one side, best first.
func (m *Market) Orders(side Side) []Order {
	t := m.bookTree(side)
	var out []Order
	for idx := t.min(m.bookRoot(side)); idx != NIL; idx = t.successor(idx) {
		out = append(out, m.orderSnapshot(idx))
	}
	return out
}

// Level is an aggregated price level, best first, for snapshots and feeds.
type Level struct {
	Price Price
	Base  uint64
}

// Levels aggregates remaining size per price on one side, best first.
func (m *Market) Levels(side Side) []Level {
	t := m.bookTree(side)
	var out []Level
	for idx := t.min(m.bookRoot(side)); idx != NIL; idx = t.successor(idx) {
		p := m.orderPrice(idx)
		if n := len(out); n > 0 && out[n-1].Price.Cmp(p) == 0 {
			out[n-1].Base += m.orderRemaining(idx)
		} else {
			out = append(out, Level{Price: p, Base: m.orderRemaining(idx)})
		}
	}
	return out
}

// ordersOwnedBy collects the block indices of every order owned by a seat,
// on both sides. Indices are collected before any mutation, per the
// index-first aliasing discipline.
func (m *Market) ordersOwnedBy(seatIdx uint32) []uint32 {
	var out []uint32
	for _, side := range []Side{Bid, Ask} {
		t := m.bookTree(side)
		for idx := t.min(m.bookRoot(side)); idx != NIL; idx = t.successor(idx) {
			if m.orderSeat(idx) == seatIdx {
				out = append(out, idx)
			}
		}
	}
	return out
}

// findOrder locates an order by sequence number on either side.
func (m *Market) findOrder(seq uint64) (uint32, bool) {
	for _, side := range []Side{Bid, Ask} {
		t := m.bookTree(side)
		for idx := t.min(m.bookRoot(side)); idx != NIL; idx = t.successor(idx) {
			if m.orderSeq(idx) == seq {
				return idx, true
			}
		}
	}
	return 0, false
}
