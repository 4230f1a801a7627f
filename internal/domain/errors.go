package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrConfiguration = errors.New("configuration error")
	ErrIntegrity     = errors.New("integrity violation")
	ErrValidation    = errors.New("validation failed")
)
