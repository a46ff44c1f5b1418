package core

import (
	"errors"
)

var (
	ErrJobNotFound      = errors.New("prodsched: job not registered")
	ErrJobAlreadyExists = errors.New("prodsched: job already registered")
	ErrJobNotPaused     = errors.New("prodsched: job is not paused")
	ErrJobAlreadyPaused = errors.New("prodsched: job is already paused")
	ErrInvalidJobID     = errors.New("prodsched: invalid job id (must be alphanumeric with dashes, start with letter)")
	ErrJobIDTooLong     = errors.New("prodsched: job id too long")
	ErrUnknownItem      = errors.New("prodsched: score update references unknown item")
)
