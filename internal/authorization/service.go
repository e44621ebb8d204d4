package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/fakturo/internal/actor"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service decides whether an actor may perform an action on an object kind.
// Record ownership is checked by the calling service.
type Service interface {
	Authorize(ctx context.Context, a actor.Actor, object, action string) error
}
