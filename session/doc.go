// Package session houses concrete implementations of core.SessionStore.
//
// A store also enforces the scheduling rule of a conversation: at most one
// run per session at a time, reserved with Acquire.
package session
