// Package httpserver exposes the custody service over HTTP.
//
// The server carries three route groups behind the identity middleware:
// the plan lifecycle API, the audit query/verify/export API, and the vault
// key/content API. Operational endpoints (livez, readyz, drain, undrain)
// bypass identity so orchestrators can probe them directly.
//
// Identity is supplied by a fronting identity provider via the X-User-ID
// and X-Tenant-ID headers; the service trusts these. Vault key operations
// additionally require the owner secret in X-Vault-Secret for the duration
// of the single request.
package httpserver
