package shared

import "errors"

// ErrActorRequired occurs when a workflow action has no resolved actor.
var ErrActorRequired = errors.New("actor context required")
