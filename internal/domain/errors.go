package domain

import "errors"

var (
	ErrMissingParticipant = errors.New("missing participant id")
	ErrEmptyPayload       = errors.New("empty message payload")
)
