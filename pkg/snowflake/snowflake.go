package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// ErrNodeRange is returned when a node number does not fit in the node bits.
var ErrNodeRange = errors.New("node number must be between 0 and 1023")

// Node generates time-ordered 63-bit ids unique to one gateway instance.
// Every envelope published on a hub carries one, so the node that
// produced an envelope can be recovered from its id alone.
type Node struct {
	node  int64
	clock func() int64

	mu     sync.Mutex
	lastMs int64
	seq    int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{node: node, clock: unixMilli}, nil
}

func unixMilli() int64 { return time.Now().UnixMilli() }

// ID returns the node number this generator stamps into its ids.
func (n *Node) ID() int64 {
	return n.node
}

// Generate returns the next id. Ids from one node strictly increase, even
// when the wall clock steps backwards.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.clock()
	switch {
	case ms > n.lastMs:
		n.seq = 0
	case n.seq < stepMask:
		ms = n.lastMs
		n.seq++
	default:
		ms = n.waitPast(n.lastMs)
		n.seq = 0
	}
	n.lastMs = ms

	return (ms-epoch)<<timeShift | n.node<<nodeShift | n.seq
}

// waitPast spins until the clock reads later than ms.
func (n *Node) waitPast(ms int64) int64 {
	for {
		if now := n.clock(); now > ms {
			return now
		}
	}
}

// NodeOf extracts the node number from an id produced by Generate.
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}

// Time extracts the generation time from an id produced by Generate.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
