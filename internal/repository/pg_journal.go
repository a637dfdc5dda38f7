package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ricirt/queue-system/internal/domain"
)

type PgJournal struct {
	pool *pgxpool.Pool
}

// NewPgJournal returns a Journal backed by PostgreSQL.
func NewPgJournal(pool *pgxpool.Pool) *PgJournal {
	return &PgJournal{pool: pool}
}

func (r *PgJournal) LoadAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := r.pool.Query(ctx, `
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

	rows, err = r.pool.Query(ctx, `
		SELECT id, queue_id, number, label, customer_ref, priority, status, position,
		       requeue_count, created_at, status_changed_at, called_at
		FROM tickets`)
	if err != nil {
		return snap, fmt.Errorf("load tickets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return snap, err
		}
		snap.Tickets = append(snap.Tickets, *t)
	}
	return snap, rows.Err()
}

// Apply writes the delta in a single transaction.
func (r *PgJournal) Apply(ctx context.Context, d Delta) error {
	if d.IsEmpty() {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if q := d.Queue; q != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO queues (id, name, capacity, active, last_number, last_seq, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET
				capacity = EXCLUDED.capacity,
				active = EXCLUDED.active,
				last_number = EXCLUDED.last_number,
				last_seq = EXCLUDED.last_seq`,
			q.ID, q.Name, q.Capacity, q.Active, q.LastNumber, int64(q.LastSeq), q.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert queue: %w", err)
		}
	}

	for _, t := range d.Upsert {
		_, err = tx.Exec(ctx, `
			INSERT INTO tickets
				(id, queue_id, number, label, customer_ref, priority, status, position,
				 requeue_count, created_at, status_changed_at, called_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				position = EXCLUDED.position,
				requeue_count = EXCLUDED.requeue_count,
				status_changed_at = EXCLUDED.status_changed_at,
				called_at = EXCLUDED.called_at`,
			t.ID, t.QueueID, t.Number, t.Label, t.CustomerRef, t.Priority, t.Status.String(), nullablePosition(t.Position),
			t.RequeueCount, t.CreatedAt, t.StatusChangedAt, t.CalledAt,
		)
		if err != nil {
			return fmt.Errorf("upsert ticket %s: %w", t.ID, err)
		}
	}

	if len(d.Delete) > 0 {
		if _, err = tx.Exec(ctx, `DELETE FROM tickets WHERE id = ANY($1)`, d.Delete); err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
	}

	for _, h := range d.History {
		_, err = tx.Exec(ctx, `
			INSERT INTO ticket_history (ticket_id, queue_id, number, from_status, to_status, at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			h.TicketID, h.QueueID, h.Number, nullableStatus(h.From), nullableStatus(h.To), h.At,
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delta: %w", err)
	}
	return nil
}

func (r *PgJournal) History(ctx context.Context, f domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	where, args := buildHistoryWhere(f)
	args = append(args, historyLimit(f))

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT ticket_id, queue_id, number, from_status, to_status, at
		FROM ticket_history%s
		ORDER BY id DESC
		LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			h        domain.HistoryEntry
			from, to *string
		)
		if err := rows.Scan(&h.TicketID, &h.QueueID, &h.Number, &from, &to, &h.At); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if h.From, err = parseNullableStatus(from); err != nil {
			return nil, err
		}
		if h.To, err = parseNullableStatus(to); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ---- helpers ----

// scanTicket reads a single ticket row from any pgx row type.
func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		t        domain.Ticket
		status   string
		position *int
		calledAt *time.Time
	)
	err := row.Scan(
		&t.ID, &t.QueueID, &t.Number, &t.Label, &t.CustomerRef, &t.Priority, &status, &position,
		&t.RequeueCount, &t.CreatedAt, &t.StatusChangedAt, &calledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	if t.Status, err = domain.ParseStatus(status); err != nil {
		return nil, err
	}
	if position != nil {
		t.Position = *position
	}
	t.CalledAt = calledAt
	return &t, nil
}

// buildHistoryWhere builds a parameterised WHERE clause from a HistoryFilter.
func buildHistoryWhere(f domain.HistoryFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.QueueID != "" {
		add("queue_id = $%d", f.QueueID)
	}
	if f.TicketID != "" {
		add("ticket_id = $%d", f.TicketID)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func nullablePosition(p int) *int {
	if p == 0 {
		return nil
	}
	return &p
}

func nullableStatus(s domain.Status) *string {
	if s == 0 {
		return nil
	}
	name := s.String()
	return &name
}

func parseNullableStatus(s *string) (domain.Status, error) {
	if s == nil {
		return 0, nil
	}
	return domain.ParseStatus(*s)
}

var _ Journal = (*PgJournal)(nil)
