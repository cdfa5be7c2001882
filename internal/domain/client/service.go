package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lending-engine/internal/pkg/apperrors"
)

type ClientService interface {
	CreateClient(ctx context.Context, name, document string) (*Client, error)

	GetClient(ctx context.Context, clientID int64) (*Client, error)

	ListActiveClients(ctx context.Context) ([]*Client, error)

	DeactivateClient(ctx context.Context, clientID int64) error
}

type clientServiceImpl struct {
	repo   Repository
	logger *slog.Logger
}

func NewClientService(r Repository, logger *slog.Logger) ClientService {
	return &clientServiceImpl{repo: r, logger: logger.With("component", "ClientService")}
}

func (s *clientServiceImpl) CreateClient(ctx context.Context, name, document string) (*Client, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("name", "must not be empty")
	}

	created, err := s.repo.CreateClient(ctx, &Client{Name: name, Document: document, Active: true})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to create client", "error", err)
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s.logger.InfoContext(ctx, "Client created", "clientID", created.ID)
	return created, nil
}

func (s *clientServiceImpl) GetClient(ctx context.Context, clientID int64) (*Client, error) {
	c, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: client %d not found", apperrors.ErrNotFound, clientID)
		}
		s.logger.ErrorContext(ctx, "Failed to get client", "clientID", clientID, "error", err)
		return nil, fmt.Errorf("failed to get client %d: %w", clientID, err)
	}
	return c, nil
}

func (s *clientServiceImpl) ListActiveClients(ctx context.Context) ([]*Client, error) {
	clients, err := s.repo.ListActiveClients(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list clients", "error", err)
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

func (s *clientServiceImpl) DeactivateClient(ctx context.Context, clientID int64) error {
	if err := s.repo.SetClientActive(ctx, clientID, false); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: client %d not found", apperrors.ErrNotFound, clientID)
		}
		s.logger.ErrorContext(ctx, "Failed to deactivate client", "clientID", clientID, "error", err)
		return fmt.Errorf("failed to deactivate client %d: %w", clientID, err)
	}
	s.logger.InfoContext(ctx, "Client deactivated", "clientID", clientID)
	return nil
}
