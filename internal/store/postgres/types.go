package postgres

import (
	"context"
	"errors"

	"github.com/remiriasukaretto/LINEBOT/internal/models"
	"github.com/remiriasukaretto/LINEBOT/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

func (s *Store) CreateType(ctx context.Context, name string) (models.TicketType, error) {
	if err := store.ValidateTypeName(name); err != nil {
		return models.TicketType{}, err
	}

	var ticketType models.TicketType
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ticket_types (name, accepting)
		VALUES ($1, TRUE)
		RETURNING type_id, name, accepting, created_at
	`, name)
	if err := row.Scan(&ticketType.ID, &ticketType.Name, &ticketType.Accepting, &ticketType.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return models.TicketType{}, store.ErrDuplicateTypeName
		}
		return models.TicketType{}, err
	}
	return ticketType, nil
}

func (s *Store) DeleteType(ctx context.Context, typeID int64) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Referencing tickets keep their history and become untyped.
	if _, err = tx.Exec(ctx, `
		UPDATE tickets
		SET type_id = NULL
		WHERE type_id = $1
	`, typeID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM ticket_types
		WHERE type_id = $1
	`, typeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrTypeNotFound
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) ToggleTypeAccepting(ctx context.Context, typeID int64) (models.TicketType, error) {
	var ticketType models.TicketType
	row := s.pool.QueryRow(ctx, `
		UPDATE ticket_types
		SET accepting = NOT accepting
		WHERE type_id = $1
		RETURNING type_id, name, accepting, created_at
	`, typeID)
	if err := row.Scan(&ticketType.ID, &ticketType.Name, &ticketType.Accepting, &ticketType.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TicketType{}, store.ErrTypeNotFound
		}
		return models.TicketType{}, err
	}
	return ticketType, nil
}

func (s *Store) GetTypeByName(ctx context.Context, name string) (models.TicketType, bool, error) {
	var ticketType models.TicketType
	row := s.pool.QueryRow(ctx, `
		SELECT type_id, name, accepting, created_at
		FROM ticket_types
		WHERE name = $1
	`, name)
	if err := row.Scan(&ticketType.ID, &ticketType.Name, &ticketType.Accepting, &ticketType.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TicketType{}, false, nil
		}
		return models.TicketType{}, false, err
	}
	return ticketType, true, nil
}

func (s *Store) ListTypes(ctx context.Context) ([]models.TicketType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type_id, name, accepting, created_at
		FROM ticket_types
		ORDER BY type_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []models.TicketType
	for rows.Next() {
		var ticketType models.TicketType
		if err := rows.Scan(&ticketType.ID, &ticketType.Name, &ticketType.Accepting, &ticketType.CreatedAt); err != nil {
			return nil, err
		}
		types = append(types, ticketType)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types, nil
}

func (s *Store) ListAcceptingNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name
		FROM ticket_types
		WHERE accepting = TRUE
		ORDER BY type_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Store) CountTypes(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_types`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) GetSettings(ctx context.Context) (models.Settings, error) {
	if err := s.ensureSettingsRow(ctx); err != nil {
		return models.Settings{}, err
	}

	var settings models.Settings
	row := s.pool.QueryRow(ctx, `
		SELECT accepting_new
		FROM queue_settings
		WHERE settings_id = 1
	`)
	if err := row.Scan(&settings.AcceptingNew); err != nil {
		return models.Settings{}, err
	}
	return settings, nil
}

func (s *Store) ToggleAcceptingNew(ctx context.Context) (models.Settings, error) {
	if err := s.ensureSettingsRow(ctx); err != nil {
		return models.Settings{}, err
	}

	var settings models.Settings
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_settings
		SET accepting_new = NOT accepting_new
		WHERE settings_id = 1
		RETURNING accepting_new
	`)
	if err := row.Scan(&settings.AcceptingNew); err != nil {
		return models.Settings{}, err
	}
	return settings, nil
}

func (s *Store) ensureSettingsRow(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_settings (settings_id, accepting_new)
		VALUES (1, TRUE)
		ON CONFLICT (settings_id) DO NOTHING
	`)
	return err
}
