package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codearena/backend/internal/models"
	"github.com/codearena/backend/pkg/utils"
)

const joinCodeAttempts = 5

// ErrJoinCodeExhausted is returned when no unique join code could be generated.
var ErrJoinCodeExhausted = errors.New("could not generate a unique join code")

// Repository handles room and participant persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roomColumns = `id, name, description, is_private, join_code, password_hash, max_players, status,
	created_by, winner_user_id, ended_at, created_at, updated_at`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var rm models.Room
	var id uuid.UUID
	err := row.Scan(&id, &rm.Name, &rm.Description, &rm.IsPrivate, &rm.JoinCode, &rm.PasswordHash,
		&rm.MaxPlayers, &rm.Status, &rm.CreatedBy, &rm.WinnerUserID, &rm.EndedAt, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rm.ID = id.String()
	return &rm, nil
}

// Create inserts a new room with a fresh join code, retrying on code collisions.
func (r *Repository) Create(ctx context.Context, rm *models.Room) error {
	const query = `INSERT INTO rooms (name, description, is_private, join_code, password_hash, max_players, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, 'waiting', $7)
		RETURNING id, status, created_at, updated_at`
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := utils.NewJoinCode()
		if err != nil {
			return err
		}
		var id uuid.UUID
		err = r.pool.QueryRow(ctx, query, rm.Name, rm.Description, rm.IsPrivate, code, rm.PasswordHash, rm.MaxPlayers, rm.CreatedBy).
			Scan(&id, &rm.Status, &rm.CreatedAt, &rm.UpdatedAt)
		if isUniqueViolation(err, "rooms_join_code_key") {
			continue
		}
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		rm.ID = id.String()
		rm.JoinCode = code
		return nil
	}
	return ErrJoinCodeExhausted
}

// GetByID returns a room, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, roomID string) (*models.Room, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return nil, nil
	}
	rm, err := scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rm, err
}

// GetByJoinCode returns a room by its join code, or nil.
func (r *Repository) GetByJoinCode(ctx context.Context, code string) (*models.Room, error) {
	rm, err := scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE join_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rm, err
}

// List returns public rooms, newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status models.RoomStatus, limit, offset int) ([]models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE is_private = FALSE`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rm)
	}
	return list, rows.Err()
}

// Participants returns a room's seats in join order.
func (r *Repository) Participants(ctx context.Context, roomID string) ([]models.Participant, error) {
	const query = `SELECT user_id, joined_at FROM room_participants WHERE room_id = $1 ORDER BY joined_at, user_id`
	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.UserID, &p.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// AddParticipant records a seat. Re-adding an existing seat is a no-op.
func (r *Repository) AddParticipant(ctx context.Context, roomID, userID string, joinedAt time.Time) error {
	const query = `INSERT INTO room_participants (room_id, user_id, joined_at) VALUES ($1, $2, $3)
		ON CONFLICT (room_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, roomID, userID, joinedAt)
	return err
}

// RemoveParticipant deletes a seat.
func (r *Repository) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	return err
}

// SetStatus updates a room's lifecycle status.
func (r *Repository) SetStatus(ctx context.Context, roomID string, status models.RoomStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE rooms SET status = $2, updated_at = NOW() WHERE id = $1`, roomID, status)
	return err
}

// Delete removes a room and, by cascade, its seats, games and submissions.
func (r *Repository) Delete(ctx context.Context, roomID string) (bool, error) {
	id, err := uuid.Parse(roomID)
	if err != nil {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LoadRoom reads the state the coordinator needs on first touch of a room.
// Unknown or malformed ids yield nil, nil.
func (r *Repository) LoadRoom(ctx context.Context, roomID string) (*models.RoomRecord, error) {
	rm, err := r.GetByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if rm == nil {
		return nil, nil
	}
	participants, err := r.Participants(ctx, rm.ID)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	return &models.RoomRecord{
		ID:           rm.ID,
		Capacity:     rm.MaxPlayers,
		Status:       rm.Status,
		CreatedBy:    rm.CreatedBy,
		Participants: participants,
	}, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
