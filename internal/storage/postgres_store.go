package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/example/order-engine/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle, mainly for tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate executes a SQL file against the database.
func (p *PostgresStore) Migrate(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read migration")
	}
	_, err = p.db.ExecContext(ctx, string(b))
	return errors.Wrapf(err, "apply migration %s", path)
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const orderColumns = `id, status, status_text, customer_id, assigned_driver_id, delivery_address,
	delivery_lat, delivery_lng, total_amount, currency, source, partner_id, locale,
	items, status_history, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o models.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO orders(`+orderColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`, args...)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrExists
	}
	return errors.Wrap(err, "insert order")
}

func (p *PostgresStore) Update(ctx context.Context, o models.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status=$2, status_text=$3, customer_id=$4,
		assigned_driver_id=$5, delivery_address=$6, delivery_lat=$7, delivery_lng=$8,
		total_amount=$9, currency=$10, source=$11, partner_id=$12, locale=$13, items=$14,
		status_history=$15, created_at=$16, updated_at=$17 WHERE id=$1`, args...)
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	return o, err
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterate orders")
}

func orderArgs(o models.Order) ([]any, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "encode items")
	}
	history, err := json.Marshal(o.StatusHistory)
	if err != nil {
		return nil, errors.Wrap(err, "encode history")
	}
	var lat, lng sql.NullFloat64
	if c := o.DeliveryCoordinates; c != nil {
		lat = sql.NullFloat64{Float64: c.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: c.Lng, Valid: true}
	}
	return []any{
		o.ID, string(o.Status), o.StatusText, o.CustomerID, o.AssignedDriverID, o.DeliveryAddress,
		lat, lng, o.TotalAmount, o.Currency, string(o.Source), o.PartnerID, o.Locale,
		items, history, o.CreatedAt, o.UpdatedAt,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (models.Order, error) {
	var (
		o                    models.Order
		status, source       string
		lat, lng             sql.NullFloat64
		itemsRaw, historyRaw []byte
	)
	err := s.Scan(&o.ID, &status, &o.StatusText, &o.CustomerID, &o.AssignedDriverID, &o.DeliveryAddress,
		&lat, &lng, &o.TotalAmount, &o.Currency, &source, &o.PartnerID, &o.Locale,
		&itemsRaw, &historyRaw, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, errors.Wrap(err, "scan order")
	}
	o.Status = models.OrderStatus(status)
	o.Source = models.CartSource(source)
	if lat.Valid && lng.Valid {
		o.DeliveryCoordinates = &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
	}
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &o.Items); err != nil {
			return o, errors.Wrap(err, "decode items")
		}
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &o.StatusHistory); err != nil {
			return o, errors.Wrap(err, "decode history")
		}
	}
	return o, nil
}
