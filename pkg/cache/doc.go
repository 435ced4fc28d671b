// Package cache allows clients to resume authenticated MyGeotab sessions.
//
// Authenticating costs a round trip and counts against the account's rate limit. A
// [CredentialCache] remembers the session id and the server that owns the database so that later
// runs can skip the Authenticate call. If a cached session has expired, the first call made with
// it fails with InvalidUserException; clients that still hold the account password then
// re-authenticate and update the cache.
//
// Cached session ids grant the same access as the password that produced them. If a
// CredentialCache is exported using its [CredentialCache.Export] or
// [CredentialCache.ExportToFile] methods, access controls should be used to prevent third
// parties from reading the data.
package cache
