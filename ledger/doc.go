// Package ledger implements the data model of the round-robin ledger.
//
// # Core Components
//
// Transaction: a transfer of an amount between two accounts. Transactions
// are values with a total order (sender, recipient, amount) used to build
// blocks deterministically.
//
// Block: a numbered list of transactions, the hash of the previous block
// and the id of the node that mined it. The hash is a SHA256 digest of
// those fields and is computed once by NewBlock.
//
// State: the account balances of a node. Transactions are validated
// sequentially, each one against the balances left by the ones before it.
//
// Blockchain: the append-only list of accepted blocks.
//
// # Usage
//
// The ledger package does not decide which blocks are acceptable; the
// consensus package validates a block against the State and the
// Blockchain before appending and applying it.
package ledger
