package domain

import "errors"

var (
	ErrPeerNotFound       = errors.New("peer not found")
	ErrVideoNotFound      = errors.New("video not found")
	ErrVideoNotPublished  = errors.New("video not published")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionLimit       = errors.New("session limit reached")
	ErrNodeNotStarted     = errors.New("peer node not started")
	ErrNodeAlreadyStarted = errors.New("peer node already started")
)
