// Package storage provides the persistence backends behind the interfaces
// package contracts.
//
// Record storage (plans, trustees, beneficiaries, items, audit entries and
// key material) has two implementations: MongoStore for production, where
// multi-row plan mutations run in session transactions and status changes
// are compare-and-set updates, and MemoryStore for tests and dev mode,
// where a single mutex gives the same atomicity.
//
// Blob storage holds encrypted content bytes addressed by path, with local
// filesystem and S3 backends selected through BlobBackendFactory by URI
// scheme (file:// or s3://). Blob backends only ever see ciphertext.
package storage
