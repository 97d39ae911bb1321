package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns a Postgres-backed Repository. Tags are stored as text[]
// and settings/participants as jsonb.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	return r.pool
}

const encCols = `id, owner_id, name, description, tags, difficulty, estimated_duration,
	target_level, status, is_public, is_template, settings, participants,
	created_at, updated_at`

const charCols = `id, owner_id, name, class, race, level, max_hit_points, armor_class,
	player_name, created_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	if enc.Tags == nil {
		enc.Tags = []string{}
	}
	if enc.Participants == nil {
		enc.Participants = []Participant{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounters (
			id, owner_id, name, description, tags, difficulty, estimated_duration,
			target_level, status, is_public, is_template, settings, participants
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		enc.ID, enc.OwnerID, enc.Name, enc.Description, enc.Tags, enc.Difficulty, enc.EstimatedDuration,
		enc.TargetLevel, enc.Status, enc.IsPublic, enc.IsTemplate, enc.Settings, enc.Participants,
	).Scan(&enc.CreatedAt, &enc.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	enc, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounters WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return enc, err
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounters SET
			owner_id=$2, name=$3, description=$4, tags=$5, difficulty=$6,
			estimated_duration=$7, target_level=$8, status=$9, is_public=$10,
			is_template=$11, settings=$12, participants=$13, updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.OwnerID, enc.Name, enc.Description, enc.Tags, enc.Difficulty,
		enc.EstimatedDuration, enc.TargetLevel, enc.Status, enc.IsPublic,
		enc.IsTemplate, enc.Settings, enc.Participants,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM encounters WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounters WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	// LIMIT NULL returns every row.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounters WHERE owner_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		ownerID, lim, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) CreateCharacter(ctx context.Context, ch *Character) error {
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO characters (id, owner_id, name, class, race, level, max_hit_points, armor_class, player_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		ch.ID, ch.OwnerID, ch.Name, ch.Class, ch.Race, ch.Level, ch.MaxHitPoints, ch.ArmorClass, ch.PlayerName,
	).Scan(&ch.CreatedAt)
}

func (r *repoPG) GetCharacter(ctx context.Context, id uuid.UUID) (*Character, error) {
	var ch Character
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+charCols+` FROM characters WHERE id = $1`, id).Scan(
		&ch.ID, &ch.OwnerID, &ch.Name, &ch.Class, &ch.Race, &ch.Level,
		&ch.MaxHitPoints, &ch.ArmorClass, &ch.PlayerName, &ch.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCharacterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	return &ch, nil
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.OwnerID, &e.Name, &e.Description, &e.Tags, &e.Difficulty, &e.EstimatedDuration,
		&e.TargetLevel, &e.Status, &e.IsPublic, &e.IsTemplate, &e.Settings, &e.Participants,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows, total int) ([]*Encounter, int, error) {
	var encs []*Encounter
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		encs = append(encs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return encs, total, nil
}
