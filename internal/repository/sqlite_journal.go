package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ricirt/queue-system/internal/domain"
)

// SQLiteJournal is a Journal for single-box deployments. It expects a
// *sql.DB opened with db.OpenSQLite.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(db *sql.DB) *SQLiteJournal {
	return &SQLiteJournal{db: db}
}

func (r *SQLiteJournal) LoadAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, capacity, active, last_number, last_seq, created_at
		FROM queues ORDER BY created_at ASC`)
	if err != nil {
		return snap, fmt.Errorf("load queues: %w", err)
	}
	for rows.Next() {
		var q domain.Queue
		if err := rows.Scan(&q.ID, &q.Name, &q.Capacity, &q.Active, &q.LastNumber, &q.LastSeq, &q.CreatedAt); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scan queue: %w", err)
		}
		snap.Queues = append(snap.Queues, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load queues: %w", err)
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT id, queue_id, number, label, customer_ref, priority, status, position,
		       requeue_count, created_at, status_changed_at, called_at
		FROM tickets`)
	if err != nil {
		return snap, fmt.Errorf("load tickets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t        domain.Ticket
			status   string
			position sql.NullInt64
			calledAt sql.NullTime
		)
		if err := rows.Scan(
			&t.ID, &t.QueueID, &t.Number, &t.Label, &t.CustomerRef, &t.Priority, &status, &position,
			&t.RequeueCount, &t.CreatedAt, &t.StatusChangedAt, &calledAt,
		); err != nil {
			return snap, fmt.Errorf("scan ticket: %w", err)
		}
		if t.Status, err = domain.ParseStatus(status); err != nil {
			return snap, err
		}
		t.Position = int(position.Int64)
		if calledAt.Valid {
			at := calledAt.Time.UTC()
			t.CalledAt = &at
		}
		t.CreatedAt = t.CreatedAt.UTC()
		t.StatusChangedAt = t.StatusChangedAt.UTC()
		snap.Tickets = append(snap.Tickets, t)
	}
	return snap, rows.Err()
}

func (r *SQLiteJournal) Apply(ctx context.Context, d Delta) error {
	if d.IsEmpty() {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if q := d.Queue; q != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO queues (id, name, capacity, active, last_number, last_seq, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				capacity = excluded.capacity,
				active = excluded.active,
				last_number = excluded.last_number,
				last_seq = excluded.last_seq`,
			q.ID, q.Name, q.Capacity, q.Active, q.LastNumber, int64(q.LastSeq), q.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert queue: %w", err)
		}
	}

	for _, t := range d.Upsert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tickets
				(id, queue_id, number, label, customer_ref, priority, status, position,
				 requeue_count, created_at, status_changed_at, called_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				position = excluded.position,
				requeue_count = excluded.requeue_count,
				status_changed_at = excluded.status_changed_at,
				called_at = excluded.called_at`,
			t.ID, t.QueueID, t.Number, t.Label, t.CustomerRef, t.Priority, t.Status.String(), nullablePosition(t.Position),
			t.RequeueCount, t.CreatedAt, t.StatusChangedAt, t.CalledAt,
		)
		if err != nil {
			return fmt.Errorf("upsert ticket %s: %w", t.ID, err)
		}
	}

	if len(d.Delete) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(d.Delete)), ",")
		args := make([]any, len(d.Delete))
		for i, id := range d.Delete {
			args[i] = id
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM tickets WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
	}

	for _, h := range d.History {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ticket_history (ticket_id, queue_id, number, from_status, to_status, at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			h.TicketID, h.QueueID, h.Number, nullableStatus(h.From), nullableStatus(h.To), h.At,
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delta: %w", err)
	}
	return nil
}

func (r *SQLiteJournal) History(ctx context.Context, f domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	var conditions []string
	var args []any
	if f.QueueID != "" {
		conditions = append(conditions, "queue_id = ?")
		args = append(args, f.QueueID)
	}
	if f.TicketID != "" {
		conditions = append(conditions, "ticket_id = ?")
		args = append(args, f.TicketID)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, historyLimit(f))

	rows, err := r.db.QueryContext(ctx, `
		SELECT ticket_id, queue_id, number, from_status, to_status, at
		FROM ticket_history`+where+`
		ORDER BY id DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			h        domain.HistoryEntry
			from, to sql.NullString
		)
		if err := rows.Scan(&h.TicketID, &h.QueueID, &h.Number, &from, &to, &h.At); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if from.Valid {
			if h.From, err = domain.ParseStatus(from.String); err != nil {
				return nil, err
			}
		}
		if to.Valid {
			if h.To, err = domain.ParseStatus(to.String); err != nil {
				return nil, err
			}
		}
		h.At = h.At.UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (r *SQLiteJournal) Close() error {
	return r.db.Close()
}

var _ Journal = (*SQLiteJournal)(nil)
