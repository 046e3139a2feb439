// Package auditchain maintains a tamper-evident, append-only audit ledger
// per tenant.
//
// Every entry carries the hex SHA-256 of its canonicalized payload, which
// includes the previous entry's hash, forming a hash chain: mutating or
// removing any historical entry breaks every hash that follows it.
// Verification walks a tenant's chain oldest to newest, recomputes each hash
// and checks the predecessor links, and reports the first corrupt entry.
//
// Appends for a tenant are serialized by a per-tenant mutex so sequence
// numbers and predecessor hashes are assigned race-free. Different tenants
// append concurrently; their chains are fully independent.
//
// The canonical payload encoding is a compatibility surface: changing it
// invalidates every previously recorded hash. It is the sorted-key JSON of
// exactly {action, details, previousHash, resourceId, resourceType,
// tenantId, timestamp, userId}.
package auditchain
