package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/remiriasukaretto/LINEBOT/internal/models"
	"github.com/remiriasukaretto/LINEBOT/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const historyLimitCap = 200

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const ticketColumns = `t.ticket_id, t.owner_id, t.note, t.type_id, COALESCE(ty.name, ''), t.status, t.created_at, t.called_at, t.arrived_at, t.finished_at`

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// The partial unique index on owner_id over active statuses makes
	// the duplicate check and the insert a single atomic statement.
	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tickets (owner_id, note, type_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id) WHERE status IN ('waiting', 'called', 'arrived') DO NOTHING
		RETURNING ticket_id, created_at
	`, input.OwnerID, input.Note, input.TypeID, models.StatusWaiting, createdAt)
	if err := row.Scan(&ticket.ID, &ticket.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrDuplicateActiveTicket
		}
		return models.Ticket{}, err
	}

	ticket.OwnerID = input.OwnerID
	ticket.Note = input.Note
	ticket.TypeID = input.TypeID
	ticket.Status = models.StatusWaiting
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		LEFT JOIN ticket_types ty ON ty.type_id = t.type_id
		WHERE t.ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetActiveTicket(ctx context.Context, ownerID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		LEFT JOIN ticket_types ty ON ty.type_id = t.type_id
		WHERE t.owner_id = $1 AND t.status IN ('waiting', 'called', 'arrived')
		ORDER BY t.ticket_id DESC
		LIMIT 1
	`, ownerID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) CountWaitingAhead(ctx context.Context, ticketID int64, scope store.WaitScope) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM tickets
		WHERE status = 'waiting' AND ticket_id < $1
	`
	if scope == store.WaitScopeSameType {
		// The subject's type_id is re-read from storage inside the
		// query; NULL matches NULL so untyped tickets count together.
		query += ` AND type_id IS NOT DISTINCT FROM (
			SELECT type_id FROM tickets WHERE ticket_id = $1
		)`
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, ticketID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Transition(ctx context.Context, ticketID int64, from []models.Status, to models.Status) (models.Ticket, error) {
	setClause := "status = $2"
	if column := timestampColumn(to); column != "" {
		setClause += ", " + column + " = now()"
	}

	fromStatuses := make([]string, 0, len(from))
	for _, status := range from {
		fromStatuses = append(fromStatuses, string(status))
	}

	row := s.pool.QueryRow(ctx, `
		WITH updated AS (
			UPDATE tickets
			SET `+setClause+`
			WHERE ticket_id = $1 AND status = ANY($3)
			RETURNING ticket_id, owner_id, note, type_id, status, created_at, called_at, arrived_at, finished_at
		)
		SELECT u.ticket_id, u.owner_id, u.note, u.type_id, COALESCE(ty.name, ''), u.status, u.created_at, u.called_at, u.arrived_at, u.finished_at
		FROM updated u
		LEFT JOIN ticket_types ty ON ty.type_id = u.type_id
	`, ticketID, to, fromStatuses)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Losing the compare-and-set means either the ticket is
			// gone or another request moved it first.
			var exists bool
			checkErr := s.pool.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1)
			`, ticketID).Scan(&exists)
			if checkErr != nil {
				return models.Ticket{}, checkErr
			}
			if !exists {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{}, store.ErrInvalidTransition
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNextWaiting(ctx context.Context, calledAt time.Time) (models.Ticket, error) {
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT ticket_id
			FROM tickets
			WHERE status = 'waiting'
			ORDER BY ticket_id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		), updated AS (
			UPDATE tickets
			SET status = 'called',
				called_at = $1
			FROM next_ticket
			WHERE tickets.ticket_id = next_ticket.ticket_id
			RETURNING tickets.ticket_id, tickets.owner_id, tickets.note, tickets.type_id, tickets.status, tickets.created_at, tickets.called_at, tickets.arrived_at, tickets.finished_at
		)
		SELECT u.ticket_id, u.owner_id, u.note, u.type_id, COALESCE(ty.name, ''), u.status, u.created_at, u.called_at, u.arrived_at, u.finished_at
		FROM updated u
		LEFT JOIN ticket_types ty ON ty.type_id = u.type_id
	`, calledAt)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrNoTicketWaiting
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListActive(ctx context.Context, filter store.ListFilter) ([]models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets t
		LEFT JOIN ticket_types ty ON ty.type_id = t.type_id
		WHERE t.status IN ('waiting', 'called', 'arrived')
	`
	args := []interface{}{}
	if filter.TypeID != nil {
		query += " AND t.type_id = $1"
		args = append(args, *filter.TypeID)
	}
	query += " ORDER BY " + sortColumn(filter.SortBy) + " " + sortDirection(filter.SortOrder, "ASC")

	return s.queryTickets(ctx, query, args...)
}

func (s *Store) ListHistory(ctx context.Context, filter store.ListFilter) ([]models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets t
		LEFT JOIN ticket_types ty ON ty.type_id = t.type_id
		WHERE t.status IN ('done', 'cancelled', 'arrived')
	`
	args := []interface{}{}
	if filter.TypeID != nil {
		query += " AND t.type_id = $1"
		args = append(args, *filter.TypeID)
	}
	query += " ORDER BY " + sortColumn(filter.SortBy) + " " + sortDirection(filter.SortOrder, "DESC")

	limit := filter.Limit
	if limit <= 0 || limit > historyLimitCap {
		limit = historyLimitCap
	}
	query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
	args = append(args, limit)

	return s.queryTickets(ctx, query, args...)
}

func (s *Store) CountWaitingByType(ctx context.Context) ([]models.TypeCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.type_id, COALESCE(ty.name, ''), COUNT(*)
		FROM tickets t
		LEFT JOIN ticket_types ty ON ty.type_id = t.type_id
		WHERE t.status = 'waiting'
		GROUP BY t.type_id, ty.name
		ORDER BY t.type_id ASC NULLS FIRST
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.TypeCount
	for rows.Next() {
		var count models.TypeCount
		var typeIDNull sql.NullInt64
		if err := rows.Scan(&typeIDNull, &count.Name, &count.Count); err != nil {
			return nil, err
		}
		if typeIDNull.Valid {
			value := typeIDNull.Int64
			count.TypeID = &value
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func sortColumn(key string) string {
	switch key {
	case "status":
		return "t.status"
	case "type":
		return "COALESCE(ty.name, '')"
	case "note":
		return "t.note"
	default:
		return "t.ticket_id"
	}
}

func sortDirection(order, fallback string) string {
	switch order {
	case "asc":
		return "ASC"
	case "desc":
		return "DESC"
	default:
		return fallback
	}
}

func timestampColumn(to models.Status) string {
	switch to {
	case models.StatusCalled:
		return "called_at"
	case models.StatusArrived:
		return "arrived_at"
	case models.StatusDone, models.StatusCancelled:
		return "finished_at"
	default:
		return ""
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var typeIDNull sql.NullInt64
	var calledAtNull sql.NullTime
	var arrivedAtNull sql.NullTime
	var finishedAtNull sql.NullTime
	if err := row.Scan(&ticket.ID, &ticket.OwnerID, &ticket.Note, &typeIDNull, &ticket.TypeName, &ticket.Status, &ticket.CreatedAt, &calledAtNull, &arrivedAtNull, &finishedAtNull); err != nil {
		return models.Ticket{}, err
	}
	if typeIDNull.Valid {
		value := typeIDNull.Int64
		ticket.TypeID = &value
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ArrivedAt = nullTimePtr(arrivedAtNull)
	ticket.FinishedAt = nullTimePtr(finishedAtNull)
	return ticket, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
