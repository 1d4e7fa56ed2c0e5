package longrange

import "container/heap"

// node is one arena entry. parent is an index into the same arena, -1 for
// the start.
type node struct {
	x, y          int
	distFromStart int
	distToGoal    int
	cost          int
	parent        int32
}

type frontierEntry struct {
	node       int32
	cost       int
	distToGoal int
	seq        uint64
}

// frontier is a binary min-heap over arena indices ordered by cost, then by
// remaining distance, then by insertion order.
type frontier struct {
	entries []frontierEntry
	seq     uint64
}

func (f *frontier) Len() int { return len(f.entries) }

func (f *frontier) Less(i, j int) bool {
	a, b := f.entries[i], f.entries[j]
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.distToGoal != b.distToGoal {
		return a.distToGoal < b.distToGoal
	}
	return a.seq < b.seq
}

func (f *frontier) Swap(i, j int) { f.entries[i], f.entries[j] = f.entries[j], f.entries[i] }

func (f *frontier) Push(x any) { f.entries = append(f.entries, x.(frontierEntry)) }

func (f *frontier) Pop() any {
	old := f.entries
	n := len(old)
	item := old[n-1]
	f.entries = old[:n-1]
	return item
}

func (f *frontier) push(index int32, n *node) {
	f.seq++
	heap.Push(f, frontierEntry{node: index, cost: n.cost, distToGoal: n.distToGoal, seq: f.seq})
}

func (f *frontier) pop() int32 {
	return heap.Pop(f).(frontierEntry).node
}
