package domain

import "errors"

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrRegistryClosed       = errors.New("connection registry is shut down")
	ErrTooManyConnections   = errors.New("too many stream connections")
)
