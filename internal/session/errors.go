package session

import "errors"

var (
	ErrNotConnected     = errors.New("session: device not connected")
	ErrWarmupInProgress = errors.New("session: warm-up in progress")
	ErrAlreadySampling  = errors.New("session: already sampling")
	ErrNotSampling      = errors.New("session: not sampling")
	ErrInsufficientData = errors.New("session: not enough data to estimate ppm")
	ErrInvalidDuration  = errors.New("session: sample duration must be positive")
)
