package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/notify"
	"clinicq/queue-service/internal/schedule"
	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tokenColumns = `token_id, session_id, token_no, phone, name, urgency, complaint_text,
	intake_summary, state, slot_index, booked_at, arrived_at, serving_at, completed_at, last_state_change_at`

const sessionColumns = `session_id, clinic_id, doctor_id, date_key, start_time_local, end_time_local,
	slot_minutes, micro_buffer_minutes, break_every_n, break_minutes, emergency_reserve_minutes,
	emergency_debt_minutes, planned_leave, unplanned_closed, created_at`

var terminalStates = []string{models.StateCancelled, models.StateCompleted}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// lockSession takes the per-session writer lock for the rest of the
// transaction. Every mutation path goes through it so one session's queue has
// exactly one writer at a time.
func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID)
	return err
}

func (s *Store) GetOrCreateSession(ctx context.Context, input store.GetOrCreateSessionInput) (models.Session, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Session{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findSessionByDay(ctx, tx, input.ClinicID, input.DoctorID, input.DateKey)
	if err != nil {
		return models.Session{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Session{}, false, err
		}
		return existing, false, nil
	}

	d := input.Defaults
	row := tx.QueryRow(ctx, `
		INSERT INTO sessions (
			session_id, clinic_id, doctor_id, date_key, start_time_local, end_time_local,
			slot_minutes, micro_buffer_minutes, break_every_n, break_minutes,
			emergency_reserve_minutes, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (clinic_id, doctor_id, date_key) DO NOTHING
		RETURNING `+sessionColumns,
		uuid.NewString(), input.ClinicID, input.DoctorID, input.DateKey,
		d.StartTimeLocal, d.EndTimeLocal, d.SlotMinutes, d.MicroBufferMinutes,
		d.BreakEveryN, d.BreakMinutes, d.EmergencyReserveMinutes, time.Now().UTC())

	created, err := scanSession(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, false, err
		}
		// Lost a create race; the row exists now.
		existing, _, err = findSessionByDay(ctx, tx, input.ClinicID, input.DoctorID, input.DateKey)
		if err != nil {
			return models.Session{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Session{}, false, err
		}
		return existing, false, nil
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Session{}, false, err
	}
	return created, true, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return sess, nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSession(ctx, tx, sessionID); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sessions SET unplanned_closed = TRUE WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrSessionNotFound
		return 0, err
	}

	now := time.Now().UTC()
	rows, err := tx.Query(ctx, `
		UPDATE tokens
		SET state = $1, last_state_change_at = $2
		WHERE session_id = $3 AND state <> ALL($4::text[])
		RETURNING token_id, phone
	`, models.StateCancelled, now, sessionID, terminalStates)
	if err != nil {
		return 0, err
	}

	type cancelled struct {
		tokenID string
		phone   string
	}
	var affected []cancelled
	for rows.Next() {
		var c cancelled
		if err = rows.Scan(&c.tokenID, &c.phone); err != nil {
			rows.Close()
			return 0, err
		}
		affected = append(affected, c)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	for _, c := range affected {
		if c.phone == "" {
			continue
		}
		tokenID := c.tokenID
		if err = insertOutboxMessage(ctx, tx, &sessionID, &tokenID, c.phone, notify.KindCancelled, notify.SessionCancelled()); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(affected), nil
}

func (s *Store) BookToken(ctx context.Context, input store.BookTokenInput) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSession(ctx, tx, input.SessionID); err != nil {
		return models.Token{}, false, err
	}

	sess, err := getSessionTx(ctx, tx, input.SessionID)
	if err != nil {
		return models.Token{}, false, err
	}
	if sess.Closed() {
		err = store.ErrSessionClosed
		return models.Token{}, false, err
	}

	// A phone that already holds an active token gets that token back
	// instead of a second booking.
	if input.Phone != "" {
		existing, found, ferr := findActiveTokenByPhone(ctx, tx, input.SessionID, input.Phone)
		if ferr != nil {
			err = ferr
			return models.Token{}, false, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.Token{}, false, err
			}
			return existing, false, nil
		}
	}

	if input.SlotIndex != nil {
		var taken bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tokens
				WHERE session_id = $1 AND slot_index = $2 AND state <> ALL($3::text[])
			)
		`, input.SessionID, *input.SlotIndex, terminalStates)
		if err = row.Scan(&taken); err != nil {
			return models.Token{}, false, err
		}
		if taken {
			err = store.ErrSlotUnavailable
			return models.Token{}, false, err
		}
	}

	tokenNo, err := nextTokenNo(ctx, tx, input.SessionID)
	if err != nil {
		return models.Token{}, false, err
	}

	bookedAt := input.BookedAt
	if bookedAt.IsZero() {
		bookedAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tokens (
			token_id, session_id, token_no, phone, name, urgency, complaint_text,
			intake_summary, state, slot_index, booked_at, last_state_change_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		RETURNING `+tokenColumns,
		uuid.NewString(), input.SessionID, tokenNo, input.Phone, input.Name,
		input.Urgency, input.ComplaintText, input.IntakeSummary,
		models.StateBooked, nullIfNilInt(input.SlotIndex), bookedAt)

	token, err := scanToken(row)
	if err != nil {
		// The partial unique index is the final arbiter for slot races.
		if isUniqueViolation(err) {
			err = store.ErrSlotUnavailable
		}
		return models.Token{}, false, err
	}

	if token.Phone != "" {
		window := bookingWindow(sess, token, bookedAt)
		tokenID := token.TokenID
		body := notify.TokenConfirmation(token.TokenNo, schedule.FormatTime(window.Start), schedule.FormatTime(window.End))
		if err = insertOutboxMessage(ctx, tx, &input.SessionID, &tokenID, token.Phone, notify.KindConfirmation, body); err != nil {
			return models.Token{}, false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

func (s *Store) AddWalkIn(ctx context.Context, input store.WalkInInput) (models.Token, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSession(ctx, tx, input.SessionID); err != nil {
		return models.Token{}, err
	}
	if _, err = getSessionTx(ctx, tx, input.SessionID); err != nil {
		return models.Token{}, err
	}

	tokenNo, err := nextTokenNo(ctx, tx, input.SessionID)
	if err != nil {
		return models.Token{}, err
	}

	arrivedAt := input.ArrivedAt
	if arrivedAt.IsZero() {
		arrivedAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO tokens (
			token_id, session_id, token_no, phone, name, urgency, complaint_text,
			intake_summary, state, booked_at, arrived_at, last_state_change_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10,$10)
		RETURNING `+tokenColumns,
		uuid.NewString(), input.SessionID, tokenNo, input.Phone, input.Name,
		input.Urgency, input.ComplaintText,
		"Walk-in added by staff. No diagnosis provided.",
		models.StateArrived, arrivedAt)

	token, err := scanToken(row)
	if err != nil {
		return models.Token{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) Arrive(ctx context.Context, tokenID string) (models.Token, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var sessionID string
	row := tx.QueryRow(ctx, `SELECT session_id FROM tokens WHERE token_id = $1`, tokenID)
	if err = row.Scan(&sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTokenNotFound
		}
		return models.Token{}, err
	}

	if err = lockSession(ctx, tx, sessionID); err != nil {
		return models.Token{}, err
	}

	token, err := arriveTx(ctx, tx, sessionID, tokenID, time.Now().UTC())
	if err != nil {
		return models.Token{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) Skip(ctx context.Context, sessionID, tokenID string) (models.Token, error) {
	return s.runTokenAction(ctx, sessionID, func(ctx context.Context, tx pgx.Tx) (models.Token, error) {
		return transitionTx(ctx, tx, sessionID, tokenID, "skip", models.StateSkipped, "", time.Now().UTC())
	})
}

func (s *Store) Cancel(ctx context.Context, sessionID, tokenID string) (models.Token, error) {
	return s.runTokenAction(ctx, sessionID, func(ctx context.Context, tx pgx.Tx) (models.Token, error) {
		return transitionTx(ctx, tx, sessionID, tokenID, "cancel", models.StateCancelled, "", time.Now().UTC())
	})
}

func (s *Store) ServeNext(ctx context.Context, sessionID string) (models.Token, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSession(ctx, tx, sessionID); err != nil {
		return models.Token{}, false, err
	}

	token, ok, err := serveNextTx(ctx, tx, sessionID, time.Now().UTC())
	if err != nil {
		return models.Token{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, false, err
	}
	return token, ok, nil
}

func (s *Store) AddEmergencyDebt(ctx context.Context, sessionID string, minutes int) (int, error) {
	if minutes <= 0 {
		return 0, store.ErrInvalidArgument
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSession(ctx, tx, sessionID); err != nil {
		return 0, err
	}

	total, err := addDebtTx(ctx, tx, sessionID, minutes)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) QueueSnapshot(ctx context.Context, sessionID string, limit int) (store.QueueSnapshot, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return store.QueueSnapshot{}, err
	}

	snapshot := store.QueueSnapshot{
		Upcoming: []models.Token{},
		Stats: store.QueueStats{
			EmergencyDebtMinutes: sess.EmergencyDebtMinutes,
			PlannedLeave:         sess.PlannedLeave,
			UnplannedClosed:      sess.UnplannedClosed,
		},
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE session_id = $1 AND state = $2
		ORDER BY token_no ASC
		LIMIT 1
	`, sessionID, models.StateServing)
	serving, err := scanToken(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.QueueSnapshot{}, err
	}
	if err == nil {
		snapshot.Serving = &serving
	}

	query := `
		SELECT ` + tokenColumns + ` FROM tokens
		WHERE session_id = $1 AND state IN ($2, $3)
		ORDER BY token_no ASC
	`
	args := []interface{}{sessionID, models.StateBooked, models.StateArrived}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		token, serr := scanTokenRows(rows)
		if serr != nil {
			return store.QueueSnapshot{}, serr
		}
		snapshot.Upcoming = append(snapshot.Upcoming, token)
	}
	if err = rows.Err(); err != nil {
		return store.QueueSnapshot{}, err
	}

	countRows, err := s.pool.Query(ctx, `
		SELECT state, COUNT(*) FROM tokens WHERE session_id = $1 GROUP BY state
	`, sessionID)
	if err != nil {
		return store.QueueSnapshot{}, err
	}
	defer countRows.Close()
	for countRows.Next() {
		var state string
		var count int
		if err = countRows.Scan(&state, &count); err != nil {
			return store.QueueSnapshot{}, err
		}
		switch state {
		case models.StateBooked:
			snapshot.Stats.BookedCount = count
		case models.StateArrived:
			snapshot.Stats.ArrivedCount = count
		case models.StateCompleted:
			snapshot.Stats.CompletedCount = count
		}
	}
	if err = countRows.Err(); err != nil {
		return store.QueueSnapshot{}, err
	}

	return snapshot, nil
}

func (s *Store) ActiveSlotBindings(ctx context.Context, sessionID string) (map[int]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT slot_index FROM tokens
		WHERE session_id = $1 AND slot_index IS NOT NULL AND state <> ALL($2::text[])
	`, sessionID, terminalStates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bound := make(map[int]bool)
	for rows.Next() {
		var index int
		if err := rows.Scan(&index); err != nil {
			return nil, err
		}
		bound[index] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bound, nil
}

func (s *Store) ListOutboxMessages(ctx context.Context, sessionID string, limit int) ([]models.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, session_id, token_id, phone, kind, body, status, created_at, sent_at
		FROM message_outbox
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var msg models.OutboxMessage
		var sessionIDNull, tokenIDNull sql.NullString
		var sentAtNull sql.NullTime
		if err := rows.Scan(&msg.MessageID, &sessionIDNull, &tokenIDNull, &msg.Phone, &msg.Kind, &msg.Body, &msg.Status, &msg.CreatedAt, &sentAtNull); err != nil {
			return nil, err
		}
		msg.SessionID = nullStringPtr(sessionIDNull)
		msg.TokenID = nullStringPtr(tokenIDNull)
		msg.SentAt = nullTimePtr(sentAtNull)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) runTokenAction(ctx context.Context, sessionID string, fn func(context.Context, pgx.Tx) (models.Token, error)) (models.Token, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Token{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSession(ctx, tx, sessionID); err != nil {
		return models.Token{}, err
	}

	token, err := fn(ctx, tx)
	if err != nil {
		return models.Token{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

// arriveTx is BOOKED -> ARRIVED. The conditional UPDATE arbitrates the
// precondition; a miss is classified as unknown token vs. bad state.
func arriveTx(ctx context.Context, tx pgx.Tx, sessionID, tokenID string, now time.Time) (models.Token, error) {
	return transitionTx(ctx, tx, sessionID, tokenID, "arrive", models.StateArrived, "arrived_at", now)
}

func transitionTx(ctx context.Context, tx pgx.Tx, sessionID, tokenID, action, toState, timestampColumn string, now time.Time) (models.Token, error) {
	fromStates := store.AllowedFrom(action)
	if len(fromStates) == 0 {
		return models.Token{}, store.ErrInvalidTransition
	}

	query := `
		UPDATE tokens
		SET state = $1, last_state_change_at = $2`
	if timestampColumn != "" {
		query += `, ` + timestampColumn + ` = COALESCE(` + timestampColumn + `, $2)`
	}
	query += `
		WHERE token_id = $3 AND session_id = $4 AND state = ANY($5::text[])
		RETURNING ` + tokenColumns

	row := tx.QueryRow(ctx, query, toState, now, tokenID, sessionID, fromStates)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, lerr := tokenExists(ctx, tx, sessionID, tokenID)
			if lerr != nil {
				return models.Token{}, lerr
			}
			if !exists {
				return models.Token{}, store.ErrTokenNotFound
			}
			return models.Token{}, store.ErrInvalidTransition
		}
		return models.Token{}, err
	}
	return token, nil
}

// serveNextTx closes out the current SERVING token and promotes the lowest
// token_no among ARRIVED tokens, all in the caller's transaction. ok is false
// when nobody is waiting; the chair stays empty.
func serveNextTx(ctx context.Context, tx pgx.Tx, sessionID string, now time.Time) (models.Token, bool, error) {
	var closed bool
	row := tx.QueryRow(ctx, `SELECT unplanned_closed FROM sessions WHERE session_id = $1`, sessionID)
	if err := row.Scan(&closed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, store.ErrSessionNotFound
		}
		return models.Token{}, false, err
	}
	if closed {
		return models.Token{}, false, store.ErrSessionClosed
	}

	if _, err := tx.Exec(ctx, `
		UPDATE tokens
		SET state = $1, completed_at = $2, last_state_change_at = $2
		WHERE session_id = $3 AND state = $4
	`, models.StateCompleted, now, sessionID, models.StateServing); err != nil {
		return models.Token{}, false, err
	}

	row = tx.QueryRow(ctx, `
		WITH next_token AS (
			SELECT token_id FROM tokens
			WHERE session_id = $1 AND state = $2
			ORDER BY token_no ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tokens
		SET state = $3, serving_at = $4, last_state_change_at = $4
		FROM next_token
		WHERE tokens.token_id = next_token.token_id
		RETURNING `+tokenColumnsQualified("tokens"),
		sessionID, models.StateArrived, models.StateServing, now)

	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	return token, true, nil
}

// addDebtTx bumps the cumulative emergency debt and records the delay notice.
// Debt only ever grows; easing back is not a thing the day offers.
func addDebtTx(ctx context.Context, tx pgx.Tx, sessionID string, minutes int) (int, error) {
	if minutes <= 0 {
		return 0, store.ErrInvalidArgument
	}

	var total int
	row := tx.QueryRow(ctx, `
		UPDATE sessions
		SET emergency_debt_minutes = emergency_debt_minutes + $1
		WHERE session_id = $2
		RETURNING emergency_debt_minutes
	`, minutes, sessionID)
	if err := row.Scan(&total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrSessionNotFound
		}
		return 0, err
	}

	if err := insertOutboxMessage(ctx, tx, &sessionID, nil, "", notify.KindDelay, notify.DelayNotice()); err != nil {
		return 0, err
	}
	return total, nil
}

func getSessionTx(ctx context.Context, tx pgx.Tx, sessionID string) (models.Session, error) {
	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, store.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return sess, nil
}

func findSessionByDay(ctx context.Context, tx pgx.Tx, clinicID, doctorID, dateKey string) (models.Session, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE clinic_id = $1 AND doctor_id = $2 AND date_key = $3
	`, clinicID, doctorID, dateKey)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, err
	}
	return sess, true, nil
}

func findActiveTokenByPhone(ctx context.Context, tx pgx.Tx, sessionID, phone string) (models.Token, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE session_id = $1 AND phone = $2 AND state <> ALL($3::text[])
		ORDER BY token_no ASC
		LIMIT 1
	`, sessionID, phone, terminalStates)
	token, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, err
	}
	return token, true, nil
}

func nextTokenNo(ctx context.Context, tx pgx.Tx, sessionID string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_no), 0) + 1 FROM tokens WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func tokenExists(ctx context.Context, tx pgx.Tx, sessionID, tokenID string) (bool, error) {
	var exists bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tokens WHERE token_id = $1 AND session_id = $2)
	`, tokenID, sessionID)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func insertOutboxMessage(ctx context.Context, tx pgx.Tx, sessionID, tokenID *string, phone, kind, body string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO message_outbox (message_id, session_id, token_id, phone, kind, body, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.NewString(), sessionID, tokenID, phone, kind, body, models.MessageStatusPending, time.Now().UTC())
	return err
}

// bookingWindow picks the arrival window shown on the confirmation: the bound
// calendar slot when there is one, otherwise the position-based estimate.
func bookingWindow(sess models.Session, token models.Token, now time.Time) schedule.Window {
	if token.SlotIndex != nil {
		slots, err := schedule.Generate(sess)
		if err == nil {
			for _, slot := range slots {
				if slot.Type == schedule.SlotTypeSlot && slot.Index == *token.SlotIndex {
					return schedule.WindowForSlot(sess, slot)
				}
			}
		}
	}
	return schedule.EstimateWindow(sess, token.TokenNo-1, now)
}

func scanSession(row pgx.Row) (models.Session, error) {
	var sess models.Session
	err := row.Scan(
		&sess.SessionID, &sess.ClinicID, &sess.DoctorID, &sess.DateKey,
		&sess.StartTimeLocal, &sess.EndTimeLocal,
		&sess.SlotMinutes, &sess.MicroBufferMinutes, &sess.BreakEveryN, &sess.BreakMinutes,
		&sess.EmergencyReserveMinutes, &sess.EmergencyDebtMinutes,
		&sess.PlannedLeave, &sess.UnplannedClosed, &sess.CreatedAt)
	if err != nil {
		return models.Session{}, err
	}
	return sess, nil
}

func scanToken(row pgx.Row) (models.Token, error) {
	var token models.Token
	var slotIndexNull sql.NullInt32
	var arrivedAtNull, servingAtNull, completedAtNull sql.NullTime
	err := row.Scan(
		&token.TokenID, &token.SessionID, &token.TokenNo, &token.Phone, &token.Name,
		&token.Urgency, &token.ComplaintText, &token.IntakeSummary, &token.State,
		&slotIndexNull, &token.BookedAt, &arrivedAtNull, &servingAtNull,
		&completedAtNull, &token.LastStateChangeAt)
	if err != nil {
		return models.Token{}, err
	}
	if slotIndexNull.Valid {
		index := int(slotIndexNull.Int32)
		token.SlotIndex = &index
	}
	token.ArrivedAt = nullTimePtr(arrivedAtNull)
	token.ServingAt = nullTimePtr(servingAtNull)
	token.CompletedAt = nullTimePtr(completedAtNull)
	return token, nil
}

func scanTokenRows(rows pgx.Rows) (models.Token, error) {
	return scanToken(rows)
}

func tokenColumnsQualified(table string) string {
	return table + `.token_id, ` + table + `.session_id, ` + table + `.token_no, ` +
		table + `.phone, ` + table + `.name, ` + table + `.urgency, ` +
		table + `.complaint_text, ` + table + `.intake_summary, ` + table + `.state, ` +
		table + `.slot_index, ` + table + `.booked_at, ` + table + `.arrived_at, ` +
		table + `.serving_at, ` + table + `.completed_at, ` + table + `.last_state_change_at`
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfNilInt(value *int) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
