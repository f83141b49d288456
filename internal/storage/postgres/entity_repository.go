package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// table описывает отображение сущности на таблицу.
// Первая колонка columns хранит бизнес-ключ; fields возвращает указатели в том же порядке.
type table[T domain.Entity] struct {
	kind    domain.Kind
	name    string
	columns []string
	fields  func(*T) []any
}

func (t table[T]) keyColumn() string { return t.columns[0] }

func (t table[T]) selectList() string {
	return "id, " + strings.Join(t.columns, ", ") + ", version, created_at, updated_at"
}

func (t table[T]) values(data T) []any {
	ptrs := t.fields(&data)
	out := make([]any, len(ptrs))
	for i, p := range ptrs {
		switch v := p.(type) {
		case *int:
			out[i] = *v
		case *string:
			out[i] = *v
		case *domain.CargoStatus:
			out[i] = string(*v)
		case *domain.OrderStatus:
			out[i] = string(*v)
		default:
			out[i] = p
		}
	}
	return out
}

var (
	cargoTable = table[domain.Cargo]{
		kind:    domain.KindCargo,
		name:    "cargoes",
		columns: []string{"cargo_id", "name", "weight", "status"},
		fields: func(c *domain.Cargo) []any {
			return []any{&c.CargoID, &c.Name, &c.Weight, &c.Status}
		},
	}
	orderTable = table[domain.Order]{
		kind:    domain.KindOrder,
		name:    "orders",
		columns: []string{"order_id", "cargo_id", "from_store_id", "to_store_id", "status"},
		fields: func(o *domain.Order) []any {
			return []any{&o.OrderID, &o.CargoID, &o.FromStoreID, &o.ToStoreID, &o.Status}
		},
	}
	storeTable = table[domain.Store]{
		kind:    domain.KindStore,
		name:    "stores",
		columns: []string{"store_id", "location", "capacity", "used_capacity"},
		fields: func(s *domain.Store) []any {
			return []any{&s.StoreID, &s.Location, &s.Capacity, &s.UsedCapacity}
		},
	}
	routeTable = table[domain.Route]{
		kind:    domain.KindRoute,
		name:    "routes",
		columns: []string{"route_id", "from_store_id", "to_store_id", "path_from_to", "distance_from_to", "minutes_from_to"},
		fields: func(r *domain.Route) []any {
			return []any{&r.RouteID, &r.FromStoreID, &r.ToStoreID, &r.PathFromTo, &r.DistanceFromTo, &r.MinutesFromTo}
		},
	}
)

// EntityRepository: PostgreSQL-реализация domain.Repository.
type EntityRepository[T domain.Entity] struct {
	db    *sql.DB
	table table[T]
}

// NewCargoRepository создаёт PostgreSQL-репозиторий грузов.
func NewCargoRepository(store *Store) *EntityRepository[domain.Cargo] {
	return &EntityRepository[domain.Cargo]{db: store.DB(), table: cargoTable}
}

// NewOrderRepository создаёт PostgreSQL-репозиторий заказов.
func NewOrderRepository(store *Store) *EntityRepository[domain.Order] {
	return &EntityRepository[domain.Order]{db: store.DB(), table: orderTable}
}

// NewStoreRepository создаёт PostgreSQL-репозиторий складов.
func NewStoreRepository(store *Store) *EntityRepository[domain.Store] {
	return &EntityRepository[domain.Store]{db: store.DB(), table: storeTable}
}

func (r *EntityRepository[T]) Create(ctx context.Context, record domain.Record[T]) (domain.Record[T], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	record.InternalID = uuid.NewString()
	record.Version = 0
	record.CreatedAt = now
	record.UpdatedAt = now

	values := r.table.values(record.Data)
	args := make([]any, 0, len(values)+4)
	args = append(args, record.InternalID)
	args = append(args, values...)
	args = append(args, record.Version, record.CreatedAt, record.UpdatedAt)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		r.table.name, r.table.selectList(), placeholders(1, len(args)))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.Record[T]{}, fmt.Errorf("%w: %s key %d", domain.ErrDuplicate, r.table.kind, record.Key())
		}
		return domain.Record[T]{}, fmt.Errorf("insert %s: %w", r.table.kind, err)
	}
	return record, nil
}

func (r *EntityRepository[T]) Get(ctx context.Context, key int) (domain.Record[T], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		r.table.selectList(), r.table.name, r.table.keyColumn())
	record, err := r.scan(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record[T]{}, fmt.Errorf("%w: %s key %d", domain.ErrNotFound, r.table.kind, key)
		}
		return domain.Record[T]{}, fmt.Errorf("select %s: %w", r.table.kind, err)
	}
	return record, nil
}

// Save обновляет запись при совпадении версии и возвращает её с version+1.
func (r *EntityRepository[T]) Save(ctx context.Context, record domain.Record[T]) (domain.Record[T], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	values := r.table.values(record.Data)
	sets := make([]string, 0, len(r.table.columns))
	// $1: ключ, $2: ожидаемая версия, $3: updated_at, далее поля без ключа.
	for i, column := range r.table.columns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, i+4))
	}
	sets = append(sets, "version = version + 1", "updated_at = $3")

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $1 AND version = $2 RETURNING %s`,
		r.table.name, strings.Join(sets, ", "), r.table.keyColumn(), r.table.selectList())

	args := make([]any, 0, len(values)+2)
	args = append(args, record.Key(), record.Version, time.Now().UTC())
	args = append(args, values[1:]...)

	saved, err := r.scan(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Record[T]{}, fmt.Errorf("update %s: %w", r.table.kind, err)
	}
	return domain.Record[T]{}, r.missOrConflict(ctx, record)
}

func (r *EntityRepository[T]) Delete(ctx context.Context, record domain.Record[T]) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND version = $2`, r.table.name, r.table.keyColumn())
	res, err := r.db.ExecContext(ctx, query, record.Key(), record.Version)
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.table.kind, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s delete: %w", r.table.kind, err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, record)
	}
	return nil
}

func (r *EntityRepository[T]) List(ctx context.Context, limit int) ([]domain.Record[T], error) {
	return r.query(ctx, "", limit)
}

// query выбирает записи по условию where (аргументы нумеруются с $1) по возрастанию ключа.
func (r *EntityRepository[T]) query(ctx context.Context, where string, limit int, args ...any) ([]domain.Record[T], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s`, r.table.selectList(), r.table.name)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + r.table.keyColumn()
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.table.kind, err)
	}
	defer rows.Close()

	result := make([]domain.Record[T], 0)
	for rows.Next() {
		record, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", r.table.kind, err)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", r.table.kind, err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *EntityRepository[T]) scan(row rowScanner) (domain.Record[T], error) {
	var record domain.Record[T]
	dest := make([]any, 0, len(r.table.columns)+4)
	dest = append(dest, &record.InternalID)
	dest = append(dest, r.table.fields(&record.Data)...)
	dest = append(dest, &record.Version, &record.CreatedAt, &record.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return domain.Record[T]{}, err
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func (r *EntityRepository[T]) missOrConflict(ctx context.Context, record domain.Record[T]) error {
	var version int64
	query := fmt.Sprintf(`SELECT version FROM %s WHERE %s = $1`, r.table.name, r.table.keyColumn())
	err := r.db.QueryRowContext(ctx, query, record.Key()).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s key %d", domain.ErrNotFound, r.table.kind, record.Key())
	case err != nil:
		return fmt.Errorf("check %s exists: %w", r.table.kind, err)
	default:
		return fmt.Errorf("%w: %s key %d has version %d, got %d",
			domain.ErrVersionConflict, r.table.kind, record.Key(), version, record.Version)
	}
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ",")
}

// RouteRepository добавляет выборку маршрутов по паре складов.
type RouteRepository struct {
	*EntityRepository[domain.Route]
}

// NewRouteRepository создаёт PostgreSQL-репозиторий маршрутов.
func NewRouteRepository(store *Store) *RouteRepository {
	return &RouteRepository{EntityRepository: &EntityRepository[domain.Route]{db: store.DB(), table: routeTable}}
}

func (r *RouteRepository) FindBetween(ctx context.Context, fromStoreID, toStoreID int) ([]domain.Record[domain.Route], error) {
	return r.query(ctx, "from_store_id = $1 AND to_store_id = $2", 0, fromStoreID, toStoreID)
}

var (
	_ domain.CargoRepository = (*EntityRepository[domain.Cargo])(nil)
	_ domain.OrderRepository = (*EntityRepository[domain.Order])(nil)
	_ domain.StoreRepository = (*EntityRepository[domain.Store])(nil)
	_ domain.RouteRepository = (*RouteRepository)(nil)
)
