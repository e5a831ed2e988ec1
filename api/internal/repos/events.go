package repos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gather-events-backend/api/internal/models"
)

type EventsRepo struct {
	pool *pgxpool.Pool
}

func NewEventsRepo(pool *pgxpool.Pool) *EventsRepo {
	return &EventsRepo{pool: pool}
}

func (r *EventsRepo) Pool() *pgxpool.Pool { return r.pool }

// BeginTx opens the transaction that carries a membership transition and
// its outbox insert.
func (r *EventsRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const eventColumns = `
	id, creator_id, type_id, name, description, address, state, max_members,
	member_count, cumulative_age, average_age, rate, rate_count,
	is_free, regulations, site, registration_link, unpublish_reason,
	start_from, finish_to, created_at, updated_at
`

func scanEvent(row pgx.Row) (models.Event, error) {
	var ev models.Event
	err := row.Scan(
		&ev.ID, &ev.CreatorID, &ev.TypeID, &ev.Name, &ev.Description, &ev.Address, &ev.State, &ev.MaxMembers,
		&ev.MemberCount, &ev.CumulativeAge, &ev.AverageAge, &ev.Rate, &ev.RateCount,
		&ev.IsFree, &ev.Regulations, &ev.Site, &ev.RegistrationLink, &ev.UnpublishReason,
		&ev.StartFrom, &ev.FinishTo, &ev.CreatedAt, &ev.UpdatedAt,
	)
	return ev, err
}

func (r *EventsRepo) Insert(ctx context.Context, db DBTX, ev models.Event) (models.Event, error) {
	now := time.Now().UTC()
	return scanEvent(db.QueryRow(ctx, `
		INSERT INTO events (
			creator_id, type_id, name, description, address, state, max_members,
			member_count, cumulative_age, average_age, rate, rate_count,
			is_free, regulations, site, registration_link, unpublish_reason,
			start_from, finish_to, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20
		)
		RETURNING `+eventColumns+`
	`, ev.CreatorID, ev.TypeID, ev.Name, ev.Description, ev.Address, ev.State, ev.MaxMembers,
		ev.MemberCount, ev.CumulativeAge, ev.AverageAge, ev.Rate, ev.RateCount,
		ev.IsFree, ev.Regulations, ev.Site, ev.RegistrationLink, ev.UnpublishReason,
		ev.StartFrom, ev.FinishTo, now))
}

func (r *EventsRepo) GetByID(ctx context.Context, db DBTX, eventID int64) (models.Event, error) {
	return scanEvent(db.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
	`, eventID))
}

// GetByIDForUpdate locks the event row for the rest of the transaction.
func (r *EventsRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, eventID int64) (models.Event, error) {
	return scanEvent(tx.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
		FOR UPDATE
	`, eventID))
}

func (r *EventsRepo) Update(ctx context.Context, db DBTX, ev models.Event) (models.Event, error) {
	return scanEvent(db.QueryRow(ctx, `
		UPDATE events SET
			creator_id = $2, type_id = $3, name = $4, description = $5, address = $6, state = $7,
			max_members = $8, member_count = $9, cumulative_age = $10, average_age = $11,
			rate = $12, rate_count = $13,
			is_free = $14, regulations = $15, site = $16, registration_link = $17, unpublish_reason = $18,
			start_from = $19, finish_to = $20, updated_at = now()
		WHERE id = $1
		RETURNING `+eventColumns+`
	`, ev.ID, ev.CreatorID, ev.TypeID, ev.Name, ev.Description, ev.Address, ev.State,
		ev.MaxMembers, ev.MemberCount, ev.CumulativeAge, ev.AverageAge,
		ev.Rate, ev.RateCount,
		ev.IsFree, ev.Regulations, ev.Site, ev.RegistrationLink, ev.UnpublishReason,
		ev.StartFrom, ev.FinishTo))
}

func (r *EventsRepo) Delete(ctx context.Context, db DBTX, eventID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM events WHERE id = $1`, eventID)
	return err
}

func (r *EventsRepo) SetState(ctx context.Context, db DBTX, eventID int64, state string) error {
	_, err := db.Exec(ctx, `
		UPDATE events SET state = $2, updated_at = now() WHERE id = $1
	`, eventID, state)
	return err
}

// ListFinishable returns actual events whose last date range has passed.
func (r *EventsRepo) ListFinishable(ctx context.Context, now time.Time) ([]models.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE state = $1 AND finish_to <= $2
	`, models.EventStateActual, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListStartingOn returns actual events whose start date falls on the
// given calendar day (UTC).
func (r *EventsRepo) ListStartingOn(ctx context.Context, day time.Time) ([]models.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE state = $1 AND DATE(start_from) = DATE($2)
	`, models.EventStateActual, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]models.Event, error) {
	var out []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *EventsRepo) InsertDates(ctx context.Context, db DBTX, eventID int64, dates []models.EventDate) error {
	for _, d := range dates {
		if _, err := db.Exec(ctx, `
			INSERT INTO event_dates (event_id, date_from, date_to) VALUES ($1, $2, $3)
		`, eventID, d.From, d.To); err != nil {
			return err
		}
	}
	return nil
}

func (r *EventsRepo) ListDates(ctx context.Context, db DBTX, eventID int64) ([]models.EventDate, error) {
	rows, err := db.Query(ctx, `
		SELECT id, event_id, date_from, date_to
		FROM event_dates
		WHERE event_id = $1
		ORDER BY date_from ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EventDate
	for rows.Next() {
		var d models.EventDate
		if err := rows.Scan(&d.ID, &d.EventID, &d.From, &d.To); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *EventsRepo) DeleteDates(ctx context.Context, db DBTX, eventID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM event_dates WHERE event_id = $1`, eventID)
	return err
}

func (r *EventsRepo) InsertSchedules(ctx context.Context, db DBTX, eventID int64, schedules []models.EventSchedule) error {
	for _, s := range schedules {
		if _, err := db.Exec(ctx, `
			INSERT INTO event_schedules (event_id, day, text) VALUES ($1, $2, $3)
		`, eventID, s.Day, s.Text); err != nil {
			return err
		}
	}
	return nil
}

func (r *EventsRepo) DeleteSchedules(ctx context.Context, db DBTX, eventID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM event_schedules WHERE event_id = $1`, eventID)
	return err
}
