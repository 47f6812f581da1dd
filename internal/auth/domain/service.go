package domain

import "context"

type Service interface {
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
}
