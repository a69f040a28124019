package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcastillo/maquila-ledger/internal/interfaces"
	"github.com/dcastillo/maquila-ledger/internal/models"
	"github.com/dcastillo/maquila-ledger/internal/models/events"
)

// PostgresStore persists closure rows and maquilas in postgres. After every
// successful write it pushes the corresponding change event through the
// publisher so other viewers of the same ledger receive it.
type PostgresStore struct {
	db        *sql.DB
	publisher interfaces.EventPublisher // may be nil when no feed is configured
	log       *logrus.Logger
}

func NewPostgresStore(db *sql.DB, publisher interfaces.EventPublisher, log *logrus.Logger) *PostgresStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresStore{
		db:        db,
		publisher: publisher,
		log:       log,
	}
}

func (p *PostgresStore) GetMaquila(ctx context.Context, maquilaID string) (models.Maquila, error) {
	const query = `SELECT id, name, capacity, assigned_pieces, start_date, end_date, payment_date, advance_amount, status, comments
	FROM maquilas WHERE id = $1`

	var m models.Maquila
	var paymentDate sql.NullTime
	var comments sql.NullString
	err := p.db.QueryRowContext(ctx, query, maquilaID).Scan(
		&m.ID,
		&m.Name,
		&m.Capacity,
		&m.AssignedPieces,
		&m.StartDate,
		&m.EndDate,
		&paymentDate,
		&m.AdvanceAmount,
		&m.Status,
		&comments,
	)
	if err == sql.ErrNoRows {
		return models.Maquila{}, fmt.Errorf("maquila %s not found", maquilaID)
	}
	if err != nil {
		return models.Maquila{}, err
	}
	if paymentDate.Valid {
		m.PaymentDate = &paymentDate.Time
	}
	m.Comments = comments.String
	return m, nil
}

func (p *PostgresStore) SelectRows(ctx context.Context, maquilaID string) ([]models.ClosureRow, error) {
	const query = `SELECT id, maquila_id, category, quantity, unit_price, created_at
	FROM maquila_closures WHERE maquila_id = $1 ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query, maquilaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ClosureRow
	for rows.Next() {
		var r models.ClosureRow
		if err := rows.Scan(&r.ID, &r.MaquilaID, &r.Category, &r.Quantity, &r.UnitPrice, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RecomputeTotal()
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgresStore) InsertRows(ctx context.Context, inputs []models.RowInput) ([]models.ClosureRow, error) {
	const query = `INSERT INTO maquila_closures (maquila_id, category, quantity, unit_price)
	VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	inserted := make([]models.ClosureRow, 0, len(inputs))
	for _, in := range inputs {
		row := models.ClosureRow{
			MaquilaID: in.MaquilaID,
			Category:  in.Category,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
		}
		err = tx.QueryRowContext(ctx, query, in.MaquilaID, in.Category, in.Quantity, in.UnitPrice).
			Scan(&row.ID, &row.CreatedAt)
		if err != nil {
			return nil, err
		}
		row.RecomputeTotal()
		inserted = append(inserted, row)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	for _, row := range inserted {
		p.emit(ctx, events.RowChange{Kind: events.KindInsert, Row: row, OccurredAt: row.CreatedAt})
	}
	return inserted, nil
}

func (p *PostgresStore) UpdateRow(ctx context.Context, rowID, maquilaID string, patch models.RowPatch) error {
	set := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if patch.Category != nil {
		args = append(args, *patch.Category)
		set = append(set, fmt.Sprintf("category = $%d", len(args)))
	}
	if patch.Quantity != nil {
		args = append(args, *patch.Quantity)
		set = append(set, fmt.Sprintf("quantity = $%d", len(args)))
	}
	if patch.UnitPrice != nil {
		args = append(args, *patch.UnitPrice)
		set = append(set, fmt.Sprintf("unit_price = $%d", len(args)))
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, rowID, maquilaID)
	query := fmt.Sprintf(`UPDATE maquila_closures SET %s WHERE id = $%d AND maquila_id = $%d
	RETURNING id, maquila_id, category, quantity, unit_price, created_at`,
		strings.Join(set, ", "), len(args)-1, len(args))

	var updated models.ClosureRow
	err := p.db.QueryRowContext(ctx, query, args...).
		Scan(&updated.ID, &updated.MaquilaID, &updated.Category, &updated.Quantity, &updated.UnitPrice, &updated.CreatedAt)
	if err == sql.ErrNoRows {
		return interfaces.ErrRowNotFound
	}
	if err != nil {
		return err
	}
	updated.RecomputeTotal()

	p.emit(ctx, events.RowChange{Kind: events.KindUpdate, Row: updated, OccurredAt: time.Now()})
	return nil
}

func (p *PostgresStore) DeleteRow(ctx context.Context, rowID, maquilaID string) error {
	const query = `DELETE FROM maquila_closures WHERE id = $1 AND maquila_id = $2`

	res, err := p.db.ExecContext(ctx, query, rowID, maquilaID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrRowNotFound
	}

	p.emit(ctx, events.RowChange{
		Kind:       events.KindDelete,
		Row:        models.ClosureRow{ID: rowID, MaquilaID: maquilaID},
		OccurredAt: time.Now(),
	})
	return nil
}

func (p *PostgresStore) RowExists(ctx context.Context, rowID, maquilaID string) (bool, error) {
	const query = `SELECT 1 FROM maquila_closures WHERE id = $1 AND maquila_id = $2 LIMIT 1`

	var one int
	err := p.db.QueryRowContext(ctx, query, rowID, maquilaID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// emit pushes a change event to the feed. The row write already committed, so
// a publish failure is logged rather than returned.
func (p *PostgresStore) emit(ctx context.Context, ev events.RowChange) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, ev); err != nil {
		p.log.WithFields(logrus.Fields{
			"maquila_id": ev.Row.MaquilaID,
			"row_id":     ev.Row.ID,
			"kind":       ev.Kind,
		}).Warnf("publishing row change failed: %v", err)
	}
}

var _ interfaces.Store = (*PostgresStore)(nil)
