// Package session implements the shared session store.
//
// Sessions are opaque random tokens issued before a client authenticates.
// The store lives in Redis so that every gateway instance sees the same
// state:
//   - session key → account id ("" while anonymous), expiring after a
//     short window unless claimed
//   - account hash → current session id and display attributes
//
// Claiming a session (login) is a single Lua script so that a claim racing
// a TTL expiry either fully succeeds or leaves the session anonymous.
package session
