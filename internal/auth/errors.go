package auth

import "errors"

var (
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrInvalidRole      = errors.New("auth: invalid role")
	ErrMissingSignature = errors.New("auth: missing ingest signature")
	ErrBadSignature     = errors.New("auth: invalid ingest signature")
	ErrSignatureSkew    = errors.New("auth: ingest signature expired")
)
