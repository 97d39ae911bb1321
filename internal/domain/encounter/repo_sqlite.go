package encounter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type repoSQLite struct {
	db *sql.DB
}

// NewSQLiteRepo returns a Repository over an embedded SQLite database opened
// with db.OpenSQLite. JSON columns are stored as TEXT and timestamps as
// Unix milliseconds.
func NewSQLiteRepo(db *sql.DB) Repository {
	return &repoSQLite{db: db}
}

func (r *repoSQLite) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	tags, settings, participants, err := marshalColumns(enc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO encounters (
			id, owner_id, name, description, tags, difficulty, estimated_duration,
			target_level, status, is_public, is_template, settings, participants,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		enc.ID.String(), enc.OwnerID, enc.Name, enc.Description, tags, enc.Difficulty, enc.EstimatedDuration,
		enc.TargetLevel, enc.Status, enc.IsPublic, enc.IsTemplate, settings, participants,
		toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}
	enc.CreatedAt = fromMillis(toMillis(now))
	enc.UpdatedAt = enc.CreatedAt
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+encCols+` FROM encounters WHERE id = ?`, id.String())
	enc, err := scanSQLiteEnc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return enc, err
}

func (r *repoSQLite) Update(ctx context.Context, enc *Encounter) error {
	tags, settings, participants, err := marshalColumns(enc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE encounters SET
			owner_id=?, name=?, description=?, tags=?, difficulty=?,
			estimated_duration=?, target_level=?, status=?, is_public=?,
			is_template=?, settings=?, participants=?, updated_at=?
		WHERE id = ?`,
		enc.OwnerID, enc.Name, enc.Description, tags, enc.Difficulty,
		enc.EstimatedDuration, enc.TargetLevel, enc.Status, enc.IsPublic,
		enc.IsTemplate, settings, participants, toMillis(now),
		enc.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update encounter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	enc.UpdatedAt = fromMillis(toMillis(now))
	return nil
}

func (r *repoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM encounters WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete encounter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoSQLite) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encounters WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	// SQLite treats a negative LIMIT as unbounded. rowid keeps insertion order
	// among rows created within the same millisecond.
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+encCols+` FROM encounters WHERE owner_id = ? ORDER BY created_at, rowid LIMIT ? OFFSET ?`,
		ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var encs []*Encounter
	for rows.Next() {
		e, err := scanSQLiteEnc(rows)
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

func (r *repoSQLite) CreateCharacter(ctx context.Context, ch *Character) error {
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO characters (`+charCols+`)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ch.ID.String(), ch.OwnerID, ch.Name, ch.Class, ch.Race, ch.Level,
		ch.MaxHitPoints, ch.ArmorClass, ch.PlayerName, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert character: %w", err)
	}
	ch.CreatedAt = fromMillis(toMillis(now))
	return nil
}

func (r *repoSQLite) GetCharacter(ctx context.Context, id uuid.UUID) (*Character, error) {
	var ch Character
	var cid string
	var createdAt int64
	err := r.db.QueryRowContext(ctx, `SELECT `+charCols+` FROM characters WHERE id = ?`, id.String()).Scan(
		&cid, &ch.OwnerID, &ch.Name, &ch.Class, &ch.Race, &ch.Level,
		&ch.MaxHitPoints, &ch.ArmorClass, &ch.PlayerName, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCharacterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	if ch.ID, err = uuid.Parse(cid); err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	ch.CreatedAt = fromMillis(createdAt)
	return &ch, nil
}

func marshalColumns(enc *Encounter) (tags, settings, participants string, err error) {
	if tags, err = sonic.MarshalString(nonNilStrings(enc.Tags)); err != nil {
		return "", "", "", fmt.Errorf("encode tags: %w", err)
	}
	if settings, err = sonic.MarshalString(enc.Settings); err != nil {
		return "", "", "", fmt.Errorf("encode settings: %w", err)
	}
	ps := enc.Participants
	if ps == nil {
		ps = []Participant{}
	}
	if participants, err = sonic.MarshalString(ps); err != nil {
		return "", "", "", fmt.Errorf("encode participants: %w", err)
	}
	return tags, settings, participants, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteEnc(row rowScanner) (*Encounter, error) {
	var e Encounter
	var id, tags, settings, participants string
	var createdAt, updatedAt int64
	err := row.Scan(
		&id, &e.OwnerID, &e.Name, &e.Description, &tags, &e.Difficulty, &e.EstimatedDuration,
		&e.TargetLevel, &e.Status, &e.IsPublic, &e.IsTemplate, &settings, &participants,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("scan encounter id: %w", err)
	}
	if err := sonic.UnmarshalString(tags, &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := sonic.UnmarshalString(settings, &e.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := sonic.UnmarshalString(participants, &e.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return &e, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
