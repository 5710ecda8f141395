// Package session owns the protocol session lifecycle: the initialize
// handshake, version negotiation, and close. The dispatcher consults it
// before routing any non-initialize method.
package session
