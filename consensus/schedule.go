package consensus

import (
	"fmt"
	"slices"
)

// NoMiner stands for the miner of the block before genesis.
const NoMiner = -1

// Schedule is the round-robin order in which nodes mine blocks.
type Schedule struct {
	nodes []int
}

// NewSchedule builds a schedule over the given node ids. Duplicates are
// ignored; ids must not be negative.
func NewSchedule(nodes []int) (Schedule, error) {
	if len(nodes) == 0 {
		return Schedule{}, fmt.Errorf("no nodes given")
	}
	sorted := slices.Clone(nodes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	if sorted[0] < 0 {
		return Schedule{}, fmt.Errorf("invalid node id %d", sorted[0])
	}
	return Schedule{nodes: sorted}, nil
}

// Next returns the node that mines after current. After NoMiner it is the
// lowest id; after the highest id it wraps around to the lowest.
// For contiguous ids this is min + ((current + 1 - min) mod (max - min + 1)).
func (s Schedule) Next(current int) int {
	if current == NoMiner {
		return s.nodes[0]
	}
	i, found := slices.BinarySearch(s.nodes, current)
	if found {
		i++
	}
	if i >= len(s.nodes) {
		return s.nodes[0]
	}
	return s.nodes[i]
}

func (s Schedule) First() int {
	return s.nodes[0]
}

func (s Schedule) Contains(id int) bool {
	_, found := slices.BinarySearch(s.nodes, id)
	return found
}

// Nodes returns the node ids in ascending order.
func (s Schedule) Nodes() []int {
	return slices.Clone(s.nodes)
}
