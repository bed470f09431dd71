// Package session implements the in-memory session store for the gateway.
//
// A session is created after a successful provider handshake and is addressed
// by an opaque 32-character alphanumeric token. Sessions expire after a
// configured TTL; expiry is enforced lazily on Get (the correctness backstop)
// and reclaimed in bulk by a periodic SweepExpired, scheduled by the process
// entrypoint.
//
// Sessions are replaced wholesale on refresh: a new token is issued and the
// old one is invalidated in the same request. There is no persistence; a
// process restart drops all sessions.
package session
