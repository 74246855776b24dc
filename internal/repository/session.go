package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"xhale-breath/internal/session"

	"go.uber.org/zap"
)

// defaultListLimit sessions returned when no limit is given
const defaultListLimit = 50

// ErrSessionNotFound no session matched
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository breath session storage
//
//	breath_sessions     one row per analysed session, full record in `record` (jsonb, without data points)
//	breath_data_points  raw series, one row per sample
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository creates the repository
func NewSessionRepository(db *sql.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// SaveSession upserts the session row and replaces its data points in one transaction
func (r *SessionRepository) SaveSession(ctx context.Context, record *session.Record) error {
	if record.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if record.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	startedAt, err := session.ParseTimestamp(record.StartedAt)
	if err != nil {
		return err
	}
	endedAt, err := session.ParseTimestamp(record.EndedAt)
	if err != nil {
		return err
	}

	header := *record
	header.DataPoints = nil
	recordJSON, err := json.Marshal(&header)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO breath_sessions (
			session_id, device_id, user_id, started_at, ended_at, duration_seconds,
			estimated_ppm, calibration_path, calibration_source, battery_percent, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			device_id = EXCLUDED.device_id,
			user_id = EXCLUDED.user_id,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			estimated_ppm = EXCLUDED.estimated_ppm,
			calibration_path = EXCLUDED.calibration_path,
			calibration_source = EXCLUDED.calibration_source,
			battery_percent = EXCLUDED.battery_percent,
			record = EXCLUDED.record`,
		record.SessionID,
		record.DeviceID,
		record.UserID,
		startedAt,
		endedAt,
		record.DurationSeconds,
		record.EstimatedPpm,
		string(record.Path),
		record.Source,
		nullableInt(record.BatteryPercent),
		string(recordJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert breath session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM breath_data_points WHERE session_id = $1`, record.SessionID); err != nil {
		return fmt.Errorf("failed to clear data points: %w", err)
	}

	for i, p := range record.DataPoints {
		ts, err := session.ParseTimestamp(p.Timestamp)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO breath_data_points (session_id, seq, ts, co_raw, temperature_c, battery_percent)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			record.SessionID,
			i,
			ts,
			nullableFloat(p.CORaw),
			nullableFloat(p.TemperatureC),
			nullableInt(p.BatteryPercent),
		)
		if err != nil {
			return fmt.Errorf("failed to insert data point %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}

	r.logger.Debug("Breath session saved",
		zap.String("session_id", record.SessionID),
		zap.String("device_id", record.DeviceID),
		zap.Int("data_points", len(record.DataPoints)),
	)
	return nil
}

// ListSessions newest first; deviceID "" matches every device, limit <= 0 uses 50.
// Returned records carry no data points.
func (r *SessionRepository) ListSessions(ctx context.Context, userID, deviceID string, limit int) ([]*session.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT record
		FROM breath_sessions
		WHERE user_id = $1 AND ($2 = '' OR device_id = $2)
		ORDER BY started_at DESC
		LIMIT $3`,
		userID, deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query breath sessions: %w", err)
	}
	defer rows.Close()

	var records []*session.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan breath session: %w", err)
		}
		var record session.Record
		if err := json.Unmarshal(raw, &record); err != nil {
			r.logger.Warn("Skipping unreadable session record", zap.Error(err))
			continue
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate breath sessions: %w", err)
	}
	return records, nil
}

// GetDataPoints raw series of one session in capture order
func (r *SessionRepository) GetDataPoints(ctx context.Context, sessionID string) ([]session.DataPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, co_raw, temperature_c, battery_percent
		FROM breath_data_points
		WHERE session_id = $1
		ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query data points: %w", err)
	}
	defer rows.Close()

	var points []session.DataPoint
	for rows.Next() {
		var (
			p       session.DataPoint
			ts      sql.NullTime
			coRaw   sql.NullFloat64
			temp    sql.NullFloat64
			percent sql.NullInt64
		)
		if err := rows.Scan(&ts, &coRaw, &temp, &percent); err != nil {
			return nil, fmt.Errorf("failed to scan data point: %w", err)
		}
		if ts.Valid {
			p.Timestamp = session.FormatTimestamp(ts.Time.UnixMilli())
		}
		p.CORaw = floatFromNull(coRaw)
		p.TemperatureC = floatFromNull(temp)
		if percent.Valid {
			v := int(percent.Int64)
			p.BatteryPercent = &v
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// DeleteSession removes a session owned by userID together with its data points
func (r *SessionRepository) DeleteSession(ctx context.Context, userID, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM breath_sessions WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete breath session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM breath_data_points WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete data points: %w", err)
	}
	return tx.Commit()
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatFromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
