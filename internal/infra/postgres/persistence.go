package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"group-quiz-hub/internal/domain"
)

// Persistence stores sessions, answers and submissions in Postgres.
type Persistence struct {
	pool      *pgxpool.Pool
	directory *Directory
}

func NewPersistence(pool *pgxpool.Pool) *Persistence {
	return &Persistence{pool: pool, directory: NewDirectory(pool)}
}

func (p *Persistence) Bootstrap(ctx context.Context, key domain.SessionKey) (domain.SessionBootstrap, error) {
	quiz, err := p.directory.Quiz(ctx, key.QuizID)
	if err != nil {
		return domain.SessionBootstrap{}, err
	}
	group, err := p.directory.group(ctx, key)
	if err != nil {
		return domain.SessionBootstrap{}, err
	}

	// The first bootstrap of a session starts its clock.
	var startedAt, now time.Time
	err = p.pool.QueryRow(ctx, `
		INSERT INTO quiz_sessions (quiz_id, group_id) VALUES ($1, $2)
		ON CONFLICT (quiz_id, group_id) DO UPDATE SET quiz_id = EXCLUDED.quiz_id
		RETURNING started_at, now()`,
		key.QuizID, key.GroupID,
	).Scan(&startedAt, &now)
	if err != nil {
		return domain.SessionBootstrap{}, fmt.Errorf("start session: %w", err)
	}
	remaining := quiz.Duration() - now.Sub(startedAt)
	if remaining < 0 {
		remaining = 0
	}

	answers, err := p.answers(ctx, key)
	if err != nil {
		return domain.SessionBootstrap{}, err
	}
	submission, err := p.submission(ctx, key)
	if err != nil {
		return domain.SessionBootstrap{}, err
	}

	return domain.SessionBootstrap{
		Quiz:          quiz,
		Group:         group,
		TimeRemaining: remaining,
		Answers:       answers,
		Submission:    submission,
	}, nil
}

// SaveAnswer upserts the answer unless a newer sequence number is stored.
func (p *Persistence) SaveAnswer(ctx context.Context, key domain.SessionKey, record domain.AnswerRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO session_answers (quiz_id, group_id, question_id, value, written_by, written_by_name, seq, written_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (quiz_id, group_id, question_id) DO UPDATE SET
			value = EXCLUDED.value,
			written_by = EXCLUDED.written_by,
			written_by_name = EXCLUDED.written_by_name,
			seq = EXCLUDED.seq,
			written_at = EXCLUDED.written_at
		WHERE session_answers.seq <= EXCLUDED.seq`,
		key.QuizID, key.GroupID, record.QuestionID, record.Value,
		record.WrittenBy, record.WrittenByName, int64(record.Seq), record.WrittenAt,
	)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// SaveSubmission inserts result unless the session already has one, and
// returns whichever is stored.
func (p *Persistence) SaveSubmission(ctx context.Context, result domain.SubmissionResult) (domain.SubmissionResult, error) {
	answers, err := json.Marshal(result.Answers)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("marshal answers: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO submissions (quiz_id, group_id, score, correct_count, total_questions, submit_trigger, submitted_by, submitted_at, redirect_url, answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
		ON CONFLICT (quiz_id, group_id) DO NOTHING`,
		result.QuizID, result.GroupID, result.Score, result.CorrectCount, result.TotalQuestions,
		string(result.Trigger), result.SubmittedBy, result.SubmittedAt, result.RedirectURL, string(answers),
	)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("save submission: %w", err)
	}

	stored, err := p.submission(ctx, domain.SessionKey{QuizID: result.QuizID, GroupID: result.GroupID})
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if stored == nil {
		return domain.SubmissionResult{}, fmt.Errorf("save submission: row missing after insert")
	}
	return *stored, nil
}

func (p *Persistence) Activity(ctx context.Context, quizID string) ([]domain.GroupActivity, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT group_id, count(*) FILTER (WHERE value <> '')
		FROM session_answers WHERE quiz_id=$1
		GROUP BY group_id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("count answers: %w", err)
	}
	byGroup := make(map[string]*domain.GroupActivity)
	var order []string
	for rows.Next() {
		var a domain.GroupActivity
		if err := rows.Scan(&a.GroupID, &a.Answered); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		byGroup[a.GroupID] = &a
		order = append(order, a.GroupID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subs, err := p.pool.Query(ctx, submissionSelect+` WHERE quiz_id=$1`, quizID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer subs.Close()
	for subs.Next() {
		result, err := scanSubmission(subs)
		if err != nil {
			return nil, err
		}
		a, ok := byGroup[result.GroupID]
		if !ok {
			a = &domain.GroupActivity{GroupID: result.GroupID}
			byGroup[result.GroupID] = a
			order = append(order, result.GroupID)
		}
		a.Submission = &result
	}
	if err := subs.Err(); err != nil {
		return nil, err
	}

	activity := make([]domain.GroupActivity, 0, len(order))
	for _, id := range order {
		activity = append(activity, *byGroup[id])
	}
	return activity, nil
}

func (p *Persistence) answers(ctx context.Context, key domain.SessionKey) ([]domain.AnswerRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT question_id, value, written_by, written_by_name, seq, written_at
		FROM session_answers WHERE quiz_id=$1 AND group_id=$2
		ORDER BY question_id`, key.QuizID, key.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.AnswerRecord
	for rows.Next() {
		var (
			rec domain.AnswerRecord
			seq int64
		)
		if err := rows.Scan(&rec.QuestionID, &rec.Value, &rec.WrittenBy, &rec.WrittenByName, &seq, &rec.WrittenAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		rec.Seq = uint64(seq)
		answers = append(answers, rec)
	}
	return answers, rows.Err()
}

const submissionSelect = `
	SELECT quiz_id, group_id, score, correct_count, total_questions, submit_trigger, submitted_by, submitted_at, redirect_url, answers
	FROM submissions`

func (p *Persistence) submission(ctx context.Context, key domain.SessionKey) (*domain.SubmissionResult, error) {
	row := p.pool.QueryRow(ctx, submissionSelect+` WHERE quiz_id=$1 AND group_id=$2`, key.QuizID, key.GroupID)
	result, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func scanSubmission(row pgx.Row) (domain.SubmissionResult, error) {
	var (
		result  domain.SubmissionResult
		trigger string
		answers []byte
	)
	err := row.Scan(&result.QuizID, &result.GroupID, &result.Score, &result.CorrectCount, &result.TotalQuestions,
		&trigger, &result.SubmittedBy, &result.SubmittedAt, &result.RedirectURL, &answers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SubmissionResult{}, err
		}
		return domain.SubmissionResult{}, fmt.Errorf("scan submission: %w", err)
	}
	result.Trigger = domain.Trigger(trigger)
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &result.Answers); err != nil {
			return domain.SubmissionResult{}, fmt.Errorf("unmarshal submission answers: %w", err)
		}
	}
	return result, nil
}
