package engine

import "encoding/binary"

// An embedded red-black tree whose nodes are blocks in the market buffer.
// Links are block indices, never pointers, so a tree survives being written
// out and read back as raw bytes. The comparator is fixed per tree and
// reads keys straight out of the block payloads.
type tree struct {
	m    *Market
	less func(a, b uint32) bool
}

const (
	colorBlack byte = 0
	colorRed   byte = 1
)

func (m *Market) nodeParent(idx uint32) uint32 {
	return binary.LittleEndian.Uint32(m.block(idx)[blockOffParent:])
}
func (m *Market) setNodeParent(idx, v uint32) {
	binary.LittleEndian.PutUint32(m.block(idx)[blockOffParent:], v)
}
func (m *Market) nodeLeft(idx uint32) uint32 {
	return binary.LittleEndian.Uint32(m.block(idx)[blockOffLeft:])
}
func (m *Market) setNodeLeft(idx, v uint32) {
	binary.LittleEndian.PutUint32(m.block(idx)[blockOffLeft:], v)
}
func (m *Market) nodeRight(idx uint32) uint32 {
	return binary.LittleEndian.Uint32(m.block(idx)[blockOffRight:])
}
func (m *Market) setNodeRight(idx, v uint32) {
	binary.LittleEndian.PutUint32(m.block(idx)[blockOffRight:], v)
}

func (t tree) isRed(idx uint32) bool {
	return idx != NIL && t.m.block(idx)[blockOffColor] == colorRed
}

func (t tree) color(idx uint32) byte {
	if idx == NIL {
		return colorBlack
	}
	return t.m.block(idx)[blockOffColor]
}

func (t tree) setColor(idx uint32, c byte) {
	if idx != NIL {
		t.m.block(idx)[blockOffColor] = c
	}
}

// min returns the leftmost node under root, or NIL.
func (t tree) min(root uint32) uint32 {
	if root == NIL {
		return NIL
	}
	for t.m.nodeLeft(root) != NIL {
		root = t.m.nodeLeft(root)
	}
	return root
}

// max returns the rightmost node under root, or NIL.
func (t tree) max(root uint32) uint32 {
	if root == NIL {
		return NIL
	}
	for t.m.nodeRight(root) != NIL {
		root = t.m.nodeRight(root)
	}
	return root
}

// successor returns the next node in key order, or NIL.
func (t tree) successor(idx uint32) uint32 {
	if r := t.m.nodeRight(idx); r != NIL {
		return t.min(r)
	}
	p := t.m.nodeParent(idx)
	for p != NIL && idx == t.m.nodeRight(p) {
		idx = p
		p = t.m.nodeParent(p)
	}
	return p
}

// insert links block z (payload already written) into the tree and returns
// the new root. Exactly one allocation has happened before this call; the
// tree itself allocates nothing.
func (t tree) insert(root, z uint32) uint32 {
	m := t.m
	y := NIL
	x := root
	for x != NIL {
		y = x
		if t.less(z, x) {
			x = m.nodeLeft(x)
		} else {
			x = m.nodeRight(x)
		}
	}
	m.setNodeParent(z, y)
	if y == NIL {
		root = z
	} else if t.less(z, y) {
		m.setNodeLeft(y, z)
	} else {
		m.setNodeRight(y, z)
	}
	m.setNodeLeft(z, NIL)
	m.setNodeRight(z, NIL)
	t.setColor(z, colorRed)
	return t.insertFixup(root, z)
}

func (t tree) insertFixup(root, z uint32) uint32 {
	m := t.m
	for z != root && t.isRed(m.nodeParent(z)) {
		p := m.nodeParent(z)
		g := m.nodeParent(p) // p is red, so p is not the root and g exists
		if p == m.nodeLeft(g) {
			u := m.nodeRight(g)
			if t.isRed(u) {
				t.setColor(p, colorBlack)
				t.setColor(u, colorBlack)
				t.setColor(g, colorRed)
				z = g
			} else {
				if z == m.nodeRight(p) {
					z = p
					root = t.rotateLeft(root, z)
					p = m.nodeParent(z)
					g = m.nodeParent(p)
				}
				t.setColor(p, colorBlack)
				t.setColor(g, colorRed)
				root = t.rotateRight(root, g)
			}
		} else {
			u := m.nodeLeft(g)
			if t.isRed(u) {
				t.setColor(p, colorBlack)
				t.setColor(u, colorBlack)
				t.setColor(g, colorRed)
				z = g
			} else {
				if z == m.nodeLeft(p) {
					z = p
					root = t.rotateRight(root, z)
					p = m.nodeParent(z)
					g = m.nodeParent(p)
				}
				t.setColor(p, colorBlack)
				t.setColor(g, colorRed)
				root = t.rotateLeft(root, g)
			}
		}
	}
	t.setColor(root, colorBlack)
	return root
}

func (t tree) rotateLeft(root, x uint32) uint32 {
	m := t.m
	y := m.nodeRight(x)
	m.setNodeRight(x, m.nodeLeft(y))
	if m.nodeLeft(y) != NIL {
		m.setNodeParent(m.nodeLeft(y), x)
	}
	m.setNodeParent(y, m.nodeParent(x))
	switch {
	case m.nodeParent(x) == NIL:
		root = y
	case x == m.nodeLeft(m.nodeParent(x)):
		m.setNodeLeft(m.nodeParent(x), y)
	default:
		m.setNodeRight(m.nodeParent(x), y)
	}
	m.setNodeLeft(y, x)
	m.setNodeParent(x, y)
	return root
}

func (t tree) rotateRight(root, x uint32) uint32 {
	m := t.m
	y := m.nodeLeft(x)
	m.setNodeLeft(x, m.nodeRight(y))
	if m.nodeRight(y) != NIL {
		m.setNodeParent(m.nodeRight(y), x)
	}
	m.setNodeParent(y, m.nodeParent(x))
	switch {
	case m.nodeParent(x) == NIL:
		root = y
	case x == m.nodeRight(m.nodeParent(x)):
		m.setNodeRight(m.nodeParent(x), y)
	default:
		m.setNodeLeft(m.nodeParent(x), y)
	}
	m.setNodeRight(y, x)
	m.setNodeParent(x, y)
	return root
}

// transplant replaces subtree u with subtree v (v may be NIL).
func (t tree) transplant(root, u, v uint32) uint32 {
	m := t.m
	p := m.nodeParent(u)
	switch {
	case p == NIL:
		root = v
	case u == m.nodeLeft(p):
		m.setNodeLeft(p, v)
	default:
		m.setNodeRight(p, v)
	}
	if v != NIL {
		m.setNodeParent(v, p)
	}
	return root
}

// remove unlinks block z from the tree and returns the new root. The block
// itself is untouched; the caller frees it.
func (t tree) remove(root, z uint32) uint32 {
	m := t.m
	y := z
	yColor := t.color(y)
	var x, xParent uint32
	switch {
	case m.nodeLeft(z) == NIL:
		x = m.nodeRight(z)
		xParent = m.nodeParent(z)
		root = t.transplant(root, z, x)
	case m.nodeRight(z) == NIL:
		x = m.nodeLeft(z)
		xParent = m.nodeParent(z)
		root = t.transplant(root, z, x)
	default:
		y = t.min(m.nodeRight(z))
		yColor = t.color(y)
		x = m.nodeRight(y)
		if m.nodeParent(y) == z {
			xParent = y
		} else {
			xParent = m.nodeParent(y)
			root = t.transplant(root, y, x)
			m.setNodeRight(y, m.nodeRight(z))
			m.setNodeParent(m.nodeRight(y), y)
		}
		root = t.transplant(root, z, y)
		m.setNodeLeft(y, m.nodeLeft(z))
		m.setNodeParent(m.nodeLeft(y), y)
		t.setColor(y, t.color(z))
	}
	if yColor == colorBlack {
		root = t.removeFixup(root, x, xParent)
	}
	return root
}

func (t tree) removeFixup(root, x, xParent uint32) uint32 {
	m := t.m
	for x != root && !t.isRed(x) {
		if xParent == NIL {
			break
		}
		if x == m.nodeLeft(xParent) {
			w := m.nodeRight(xParent)
			if t.isRed(w) {
				t.setColor(w, colorBlack)
				t.setColor(xParent, colorRed)
				root = t.rotateLeft(root, xParent)
				w = m.nodeRight(xParent)
			}
			if !t.isRed(m.nodeLeft(w)) && !t.isRed(m.nodeRight(w)) {
				t.setColor(w, colorRed)
				x = xParent
				xParent = m.nodeParent(x)
			} else {
				if !t.isRed(m.nodeRight(w)) {
					t.setColor(m.nodeLeft(w), colorBlack)
					t.setColor(w, colorRed)
					root = t.rotateRight(root, w)
					w = m.nodeRight(xParent)
				}
				t.setColor(w, t.color(xParent))
				t.setColor(xParent, colorBlack)
				t.setColor(m.nodeRight(w), colorBlack)
				root = t.rotateLeft(root, xParent)
				x = root
				xParent = NIL
			}
		} else {
			w := m.nodeLeft(xParent)
			if t.isRed(w) {
				t.setColor(w, colorBlack)
				t.setColor(xParent, colorRed)
				root = t.rotateRight(root, xParent)
				w = m.nodeLeft(xParent)
			}
			if !t.isRed(m.nodeLeft(w)) && !t.isRed(m.nodeRight(w)) {
				t.setColor(w, colorRed)
				x = xParent
				xParent = m.nodeParent(x)
			} else {
				if !t.isRed(m.nodeLeft(w)) {
					t.setColor(m.nodeRight(w), colorBlack)
					t.setColor(w, colorRed)
					root = t.rotateLeft(root, w)
					w = m.nodeLeft(xParent)
				}
				t.setColor(w, t.color(xParent))
				t.setColor(xParent, colorBlack)
				t.setColor(m.nodeLeft(w), colorBlack)
				root = t.rotateRight(root, xParent)
				x = root
				xParent = NIL
			}
		}
	}
	t.setColor(x, colorBlack)
	return root
}
