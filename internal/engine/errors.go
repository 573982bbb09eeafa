package engine

import (
	"errors"
	"fmt"
)

var ErrUnauthorized = errors.New("not an admin")
var ErrInvalidPhase = errors.New("invalid phase")
var ErrCapacityExceeded = errors.New("participant capacity exceeded")
var ErrUnknownPair = errors.New("unknown pair")
var ErrNotAParticipant = errors.New("not a participant of this pair")
var ErrMoveAlreadySubmitted = errors.New("move already submitted")
var ErrIdentityUnavailable = errors.New("identity unavailable")
var ErrRandomUnavailable = errors.New("random source unavailable")
var ErrNotEnoughPlayers = errors.New("not enough players")
var ErrDeadlineNotReached = errors.New("move deadline not reached")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrInvalidRules = errors.New("invalid rules")

var (
	ErrAlreadyInProgress = fmt.Errorf("%w: battle already in progress", ErrInvalidPhase)
	ErrNotInProgress     = fmt.Errorf("%w: battle not in progress", ErrInvalidPhase)
	ErrPairResolved      = fmt.Errorf("%w: pair already resolved", ErrInvalidPhase)
)
