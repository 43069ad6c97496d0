// Package chatsync keeps a chat client consistent with the server across
// reconnects, tabs and escalation.
//
// The Controller owns which session the client is attached to and drives the
// active -> admin_handling -> ended lifecycle, always healing into a fresh
// session after an end. Displayed messages are derived with Reduce, a pure
// function over Actions: optimistic sends get negative ids and are replaced
// wholesale by the next authoritative history fetch. Typing placeholders are
// ephemeral entries with per (session, role) expiry timers.
package chatsync
