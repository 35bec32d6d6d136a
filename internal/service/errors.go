package service

import "errors"

var (
	ErrNotFound           = errors.New("resource not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingProductID   = errors.New("product row without product id")
	ErrPersistence        = errors.New("persistence failure")
)
