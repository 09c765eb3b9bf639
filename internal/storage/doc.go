// Package storage is the SQLite-backed Config & Stats Store.
//
// It holds:
//   - per-chain monitoring rules and checkpoints
//   - chats and the tokens each chat watches
//   - cumulative cycle and per-chain statistics
//   - an append-only audit log of configuring commands
package storage
