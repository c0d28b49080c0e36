package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/vesselwatch/internal/config"
	"github.com/your-org/vesselwatch/internal/models"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS camera_location (
		id         UUID PRIMARY KEY,
		name       TEXT NOT NULL UNIQUE,
		latitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude  DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS camera_video (
		id                  UUID PRIMARY KEY,
		location_id         UUID NOT NULL REFERENCES camera_location(id),
		filename            TEXT NOT NULL,
		start_time          TIMESTAMPTZ NOT NULL,
		end_time            TIMESTAMPTZ,
		detections_by_frame JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS camera_video_location_filename_idx ON camera_video (location_id, filename)`,
	`CREATE TABLE IF NOT EXISTS video_status (
		id         UUID PRIMARY KEY,
		filename   TEXT NOT NULL,
		status     TEXT NOT NULL CHECK (status IN ('queued', 'processing', 'done', 'failed')),
		progress   DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (progress >= 0 AND progress <= 100),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the tables and indexes if they are absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// --- Locations ---

const locationColumns = `id, name, latitude, longitude, created_at`

func scanLocation(row pgx.Row) (*models.Location, error) {
	l := &models.Location{}
	if err := row.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &l.CreatedAt); err != nil {
		return nil, err
	}
	return l, nil
}

// GetOrCreateLocation relies on the unique name constraint, so concurrent
// callers racing on the same name all receive the single surviving row.
func (s *PostgresStore) GetOrCreateLocation(ctx context.Context, name string) (*models.Location, error) {
	l, err := scanLocation(s.pool.QueryRow(ctx,
		`INSERT INTO camera_location (id, name) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING `+locationColumns,
		uuid.New(), name,
	))
	if err != nil {
		return nil, fmt.Errorf("get or create location: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	l, err := scanLocation(s.pool.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM camera_location WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get location: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) GetLocationByName(ctx context.Context, name string) (*models.Location, error) {
	l, err := scanLocation(s.pool.QueryRow(ctx,
		`SELECT `+locationColumns+` FROM camera_location WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get location by name: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]models.Location, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+locationColumns+` FROM camera_location ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	locations := []models.Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, *l)
	}
	return locations, rows.Err()
}

func (s *PostgresStore) UpdateLocation(ctx context.Context, id uuid.UUID, upd models.LocationUpdate) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE camera_location SET
			name = COALESCE($2, name),
			latitude = COALESCE($3, latitude),
			longitude = COALESCE($4, longitude)
		 WHERE id = $1`,
		id, upd.Name, upd.Latitude, upd.Longitude,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, fmt.Errorf("update location: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteLocation(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM camera_location WHERE id = $1`, id)
	if err != nil {
		if hasCode(err, foreignKeyViolation) {
			return false, ErrInUse
		}
		return false, fmt.Errorf("delete location: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Videos ---

const videoColumns = `id, location_id, filename, start_time, end_time, detections_by_frame, created_at, updated_at`

func scanVideo(row pgx.Row) (*models.VideoRecord, error) {
	v := &models.VideoRecord{}
	var dets []byte
	if err := row.Scan(&v.ID, &v.LocationID, &v.Filename, &v.StartTime, &v.EndTime, &dets, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dets, &v.DetectionsByFrame); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) CreateVideo(ctx context.Context, v *models.VideoRecord) (uuid.UUID, error) {
	id := v.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	dets, err := json.Marshal(v.DetectionsByFrame)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode detections: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO camera_video (id, location_id, filename, start_time, end_time, detections_by_frame)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, v.LocationID, v.Filename, v.StartTime, v.EndTime, dets,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrDuplicate
		}
		return uuid.Nil, fmt.Errorf("create video: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoRecord, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM camera_video WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) GetVideoByFilename(ctx context.Context, locationID uuid.UUID, filename string) (*models.VideoRecord, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM camera_video
		 WHERE location_id = $1 AND filename = $2
		 ORDER BY created_at LIMIT 1`, locationID, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get video by filename: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) UpdateVideo(ctx context.Context, id uuid.UUID, upd models.VideoUpdate) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE camera_video SET end_time = COALESCE($2, end_time), updated_at = now() WHERE id = $1`,
		id, upd.EndTime,
	)
	if err != nil {
		return false, fmt.Errorf("update video: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReplaceDetections(ctx context.Context, id uuid.UUID, dets models.FrameDetections) (bool, error) {
	payload, err := json.Marshal(dets)
	if err != nil {
		return false, fmt.Errorf("encode detections: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE camera_video SET detections_by_frame = $2, updated_at = now() WHERE id = $1`,
		id, payload,
	)
	if err != nil {
		return false, fmt.Errorf("replace detections: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Statuses ---

const statusColumns = `id, filename, status, progress, created_at, updated_at`

func scanStatus(row pgx.Row) (*models.VideoStatus, error) {
	st := &models.VideoStatus{}
	if err := row.Scan(&st.ID, &st.Filename, &st.Status, &st.Progress, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) CreateStatus(ctx context.Context, id uuid.UUID, filename string) (*models.VideoStatus, error) {
	st, err := scanStatus(s.pool.QueryRow(ctx,
		`INSERT INTO video_status (id, filename, status, progress) VALUES ($1, $2, $3, 0)
		 RETURNING `+statusColumns,
		id, filename, models.JobStatusProcessing,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create status: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, id uuid.UUID) (*models.VideoStatus, error) {
	st, err := scanStatus(s.pool.QueryRow(ctx,
		`SELECT `+statusColumns+` FROM video_status WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get status: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, progress float64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE video_status SET
			status = $2,
			progress = GREATEST(progress, $3),
			updated_at = now()
		 WHERE id = $1 AND status NOT IN ('done', 'failed')`,
		id, status, clampProgress(progress),
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListStatuses(ctx context.Context) ([]models.VideoStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+statusColumns+` FROM video_status ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	statuses := []models.VideoStatus{}
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		statuses = append(statuses, *st)
	}
	return statuses, rows.Err()
}
