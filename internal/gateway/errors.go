package gateway

import "errors"

var (
	errEmptyBody   = errors.New("empty request body")
	errInvalidJSON = errors.New("body must be a JSON array of readings or a single reading object")
	errEmptyBatch  = errors.New("empty batch not allowed")
)
