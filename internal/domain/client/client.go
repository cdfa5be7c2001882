package client

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("client not found")

	ErrClientInactive = errors.New("client is not active")
)

type Client struct {
	ID        int64
	Name      string
	Document  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
