package client

import "context"

type Repository interface {
	CreateClient(ctx context.Context, c *Client) (*Client, error)

	GetClientByID(ctx context.Context, clientID int64) (*Client, error)

	ListActiveClients(ctx context.Context) ([]*Client, error)

	SetClientActive(ctx context.Context, clientID int64, active bool) error
}
