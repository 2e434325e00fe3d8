// Package consensus implements the round-robin block production of the
// ledger.
//
// The nodes are known in advance and identified by integer ids. They mine
// in ascending id order: the miner of a block is a pure function of the
// miner of the previous one (see Schedule), so no election messages are
// exchanged.
//
// # Core Components
//
// Engine: owns the chain, the pending transactions and the balances of a
// single node. Every block, mined locally or received from a peer, goes
// through ValidateBlock before it is appended and applied.
//
// Mempool: pending transactions, deduplicated and returned in canonical
// order.
//
// Broadcaster: delivers mined blocks to the other nodes.
//
// Clock: source of the collection delay a miner waits before building its
// block.
//
// # Mining Cycle
//
// When a node sees that it mines next it starts a cycle:
//  1. it waits BlockTime without holding any lock
//  2. it sorts and filters the pending transactions
//  3. it builds, accepts and applies the block
//  4. it hands the block to the Broadcaster
//
// Only one cycle runs at a time. Delivery is best effort; a node that missed
// a block catches up with Sync.
package consensus
