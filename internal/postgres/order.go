package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukerupert/stripetax/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure OrderStore implements domain.OrderStore.
var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore instance.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Retrieve loads an order by id.
func (s *OrderStore) Retrieve(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, cart_id, metadata, created_at, updated_at FROM orders WHERE id = $1`,
		orderID,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("order.retrieve", "order", orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return order, nil
}

// UpdateMetadata merges the given keys into the order's metadata.
func (s *OrderStore) UpdateMetadata(ctx context.Context, orderID string, metadata map[string]string) (*domain.Order, error) {
	patch, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE orders
		 SET metadata = metadata || $2::jsonb, updated_at = now()
		 WHERE id = $1
		 RETURNING id, cart_id, metadata, created_at, updated_at`,
		orderID, patch,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("order.update", "order", orderID)
		}
		return nil, fmt.Errorf("failed to update order metadata: %w", err)
	}

	return order, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var order domain.Order
	var cartID pgtype.Text
	var rawMetadata []byte

	if err := row.Scan(&order.ID, &cartID, &rawMetadata, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return nil, err
	}

	if cartID.Valid {
		order.CartID = cartID.String
	}

	if err := json.Unmarshal(rawMetadata, &order.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode order metadata: %w", err)
	}
	if order.Metadata == nil {
		order.Metadata = map[string]string{}
	}

	return &order, nil
}
