package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"group-quiz-hub/internal/domain"
)

// Directory resolves quizzes, groups and membership from Postgres.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Quiz loads quiz JSONB by id.
func (d *Directory) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	if quiz.ID == "" {
		quiz.ID = quizID
	}
	return quiz, nil
}

func (d *Directory) Groups(ctx context.Context, quizID string) ([]domain.Group, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, quiz_id, name FROM quiz_groups WHERE quiz_id=$1 ORDER BY id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.QuizID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (d *Directory) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var groupExists, member bool
	err := d.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM quiz_groups WHERE id=$1),
			EXISTS (SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`,
		groupID, userID,
	).Scan(&groupExists, &member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	if !groupExists {
		return false, domain.ErrGroupNotFound
	}
	return member, nil
}

// group loads one group and checks it is assigned to quizID.
func (d *Directory) group(ctx context.Context, key domain.SessionKey) (domain.Group, error) {
	g := domain.Group{ID: key.GroupID}
	err := d.pool.QueryRow(ctx, `SELECT quiz_id, name FROM quiz_groups WHERE id=$1`, key.GroupID).Scan(&g.QuizID, &g.Name)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && g.QuizID != key.QuizID) {
		return domain.Group{}, domain.ErrGroupNotFound
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("load group: %w", err)
	}
	return g, nil
}
