// Package status publishes live session status to observers.
//
// The control loop hands every tick's Status to a Broadcaster, which never
// blocks: each subscriber owns a one-slot mailbox and a newer status
// replaces an unread older one. Server exposes the stream over a websocket
// plus two plain HTTP endpoints.
package status
