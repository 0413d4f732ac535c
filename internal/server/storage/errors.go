package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrRecordNotFound indicates that record was not found in the collection
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordExists indicates that record with this id already exists in the collection
	ErrRecordExists = errors.New("record already exists")
)
