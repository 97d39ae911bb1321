package encounter

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists encounters and the character sheets they reference.
// Get methods return ErrNotFound / ErrCharacterNotFound for missing rows.
// A limit <= 0 on ListByOwner returns every row.
type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Encounter, int, error)

	// Characters
	CreateCharacter(ctx context.Context, ch *Character) error
	GetCharacter(ctx context.Context, id uuid.UUID) (*Character, error)
}
