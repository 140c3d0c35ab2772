package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukerupert/stripetax/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CartStore implements domain.CartStore using PostgreSQL.
type CartStore struct {
	pool *pgxpool.Pool
}

// Compile-time check to ensure CartStore implements domain.CartStore.
var _ domain.CartStore = (*CartStore)(nil)

// NewCartStore creates a new CartStore instance.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

// Retrieve loads a cart by id.
func (s *CartStore) Retrieve(ctx context.Context, cartID string) (*domain.Cart, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, metadata, created_at, updated_at FROM carts WHERE id = $1`,
		cartID,
	)

	cart, err := scanCart(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("cart.retrieve", "cart", cartID)
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return cart, nil
}

// UpdateMetadata merges the given keys into the cart's metadata.
// The jsonb || operator performs exactly the host's shallow-merge
// convention: top-level keys are replaced, everything else is preserved.
func (s *CartStore) UpdateMetadata(ctx context.Context, cartID string, metadata map[string]string) (*domain.Cart, error) {
	patch, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE carts
		 SET metadata = metadata || $2::jsonb, updated_at = now()
		 WHERE id = $1
		 RETURNING id, metadata, created_at, updated_at`,
		cartID, patch,
	)

	cart, err := scanCart(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("cart.update", "cart", cartID)
		}
		return nil, fmt.Errorf("failed to update cart metadata: %w", err)
	}

	return cart, nil
}

func scanCart(row pgx.Row) (*domain.Cart, error) {
	var cart domain.Cart
	var rawMetadata []byte

	if err := row.Scan(&cart.ID, &rawMetadata, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rawMetadata, &cart.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode cart metadata: %w", err)
	}
	if cart.Metadata == nil {
		cart.Metadata = map[string]string{}
	}

	return &cart, nil
}
