package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"lending-engine/internal/domain/client"
	"lending-engine/internal/pkg/apperrors"
)

const clientColumns = `id, name, document, active, created_at, updated_at`

type ClientRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewClientRepository(db DBPool, logger *slog.Logger) *ClientRepository {
	return &ClientRepository{db: db, logger: logger.With("component", "ClientRepository")}
}

func scanClient(row pgx.Row) (*client.Client, error) {
	var c client.Client
	if err := row.Scan(&c.ID, &c.Name, &c.Document, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ClientRepository) CreateClient(ctx context.Context, c *client.Client) (*client.Client, error) {
	sql := `
        INSERT INTO clients (name, document, active, created_at, updated_at)
        VALUES ($1, $2, $3, NOW(), NOW())
        RETURNING ` + clientColumns

	created, err := scanClient(r.db.QueryRow(ctx, sql, c.Name, c.Document, c.Active))
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert client", "error", err)
		return nil, fmt.Errorf("%w: failed to insert client: %w", apperrors.ErrDatabase, err)
	}
	r.logger.InfoContext(ctx, "Client created in DB", "client_id", created.ID)
	return created, nil
}

func (r *ClientRepository) GetClientByID(ctx context.Context, clientID int64) (*client.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`

	c, err := scanClient(r.db.QueryRow(ctx, query, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Client not found", "client_id", clientID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get client by ID", "client_id", clientID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return c, nil
}

func (r *ClientRepository) ListActiveClients(ctx context.Context) ([]*client.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE active = TRUE ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query clients", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	clients := make([]*client.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan client row", "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		clients = append(clients, c)
	}
	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating client rows", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return clients, nil
}

func (r *ClientRepository) SetClientActive(ctx context.Context, clientID int64, active bool) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE clients SET active = $1, updated_at = NOW() WHERE id = $2`, active, clientID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update client active flag", "client_id", clientID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
