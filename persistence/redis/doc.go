// Package redis keeps registry client state in Redis so it outlives the
// process and can be shared by several clients of the same account.
//
//   - TxStore implements ipregistry.TxStore. Submitted txs whose confirmation
//     wait gave up can be reconciled after a restart.
//   - IdempotencyStore implements idempotency.Store. The per-section in-flight
//     guard then holds across processes, not only within one Manager.
//
// Wiring both into a Manager:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	m, err := ipregistry.NewManager(registryAddr, agent,
//	    ipregistry.WithTxStore(redisstore.NewTxStore(client)),
//	    ipregistry.WithIdempotencyStore(redisstore.NewIdempotencyStore(client)),
//	)
//
// # Keys
//
//   - ipregistry:tx:{hash} holds a tx record as JSON
//   - ipregistry:tx:unresolved is the set of hashes still submitted or timed out
//   - ipregistry:tx:account:{wallet}:{chainID} is the same set per account
//   - ipregistry:tx:created_at scores hashes by creation time for pruning
//   - ipregistry:inflight:{section}:{wallet} is a claimed in-flight key
//
// WithTxStoreKeyPrefix and WithIdempotencyStoreKeyPrefix put "{prefix}:" in
// front of every key, e.g. to share one Redis between environments.
//
// In-flight keys expire after DefaultInFlightTTL so a crashed client can't
// block a section forever. Tx records never expire; prune resolved ones with
// TxStore.DeleteOlderThan.
//
// Both stores accept any redis.UniversalClient: standalone, sentinel or cluster.
package redis
