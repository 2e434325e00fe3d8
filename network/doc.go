// Package network carries blocks between ledger nodes over HTTP.
//
// # Core Components
//
// Peer: HTTP client of a node. It implements consensus.Broadcaster by
// posting each mined block to /inform/block of every other node, and it
// reads /dump, /identity and /health from them.
//
// Reconciler: periodically pulls the chain of the other nodes and feeds
// the blocks the local node missed to the engine.
//
// # Delivery
//
// Broadcast is best effort. Each node is contacted once; unreachable
// nodes are reported in the returned error and left to the Reconciler.
// Outgoing blocks can carry a signature of their hash (WithSigner) and
// every broadcast has a delivery id for log correlation.
//
// # TLS
//
// WithCertificate and WithLimitedCAs switch the peer to HTTPS with client
// certificates; GenerateSelfSignedCert creates the certificates.
package network
