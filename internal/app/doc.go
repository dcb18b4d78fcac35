// Package app provides the application service layer.
//
// Orchestrates the notification use cases: creating a notification, reading
// and marking notifications, and pushing the recomputed unread count to the
// owner's stream. Depends on domain interfaces, not concrete implementations.
package app
