package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"group-quiz-hub/internal/domain"
)

// sessionResponse is the Persistence API view of a session.
type sessionResponse struct {
	Quiz                 domain.Quiz              `json:"quiz"`
	Group                domain.Group             `json:"group"`
	TimeRemainingSeconds int                      `json:"time_remaining_seconds"`
	Answers              []domain.AnswerRecord    `json:"answers"`
	Submission           *domain.SubmissionResult `json:"submission,omitempty"`
}

type membershipResponse struct {
	Member bool `json:"member"`
}

// Client talks to the Persistence API and the Directory Service over HTTP.
// Both are served under the same base URL.
type Client struct {
	*BaseClient
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	base := NewBaseClient(baseURL)
	if timeout > 0 {
		base.SetTimeout(timeout)
	}
	return &Client{BaseClient: base}
}

func (c *Client) Bootstrap(ctx context.Context, key domain.SessionKey) (domain.SessionBootstrap, error) {
	var resp sessionResponse
	if err := c.GetJSON(ctx, sessionPath(key)+"/session", &resp); err != nil {
		if IsNotFound(err) {
			return domain.SessionBootstrap{}, domain.ErrGroupNotFound
		}
		return domain.SessionBootstrap{}, err
	}
	return domain.SessionBootstrap{
		Quiz:          resp.Quiz,
		Group:         resp.Group,
		TimeRemaining: time.Duration(resp.TimeRemainingSeconds) * time.Second,
		Answers:       resp.Answers,
		Submission:    resp.Submission,
	}, nil
}

func (c *Client) SaveAnswer(ctx context.Context, key domain.SessionKey, record domain.AnswerRecord) error {
	endpoint := sessionPath(key) + "/answers/" + url.PathEscape(record.QuestionID)
	return c.SendJSON(ctx, http.MethodPut, endpoint, record, nil)
}

// SaveSubmission posts result; the API answers with the stored submission,
// which is the earlier one when the session was already submitted.
func (c *Client) SaveSubmission(ctx context.Context, result domain.SubmissionResult) (domain.SubmissionResult, error) {
	key := domain.SessionKey{QuizID: result.QuizID, GroupID: result.GroupID}
	var stored domain.SubmissionResult
	err := c.SendJSON(ctx, http.MethodPost, sessionPath(key)+"/submission", result, &stored)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusConflict {
		// Some deployments answer 409 with no body; fall back to the session.
		boot, berr := c.Bootstrap(ctx, key)
		if berr != nil {
			return domain.SubmissionResult{}, berr
		}
		if boot.Submission == nil {
			return domain.SubmissionResult{}, err
		}
		return *boot.Submission, nil
	}
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if stored.QuizID == "" {
		stored = result
	}
	return stored, nil
}

func (c *Client) Activity(ctx context.Context, quizID string) ([]domain.GroupActivity, error) {
	var activity []domain.GroupActivity
	if err := c.GetJSON(ctx, quizPath(quizID)+"/activity", &activity); err != nil {
		if IsNotFound(err) {
			return nil, domain.ErrQuizNotFound
		}
		return nil, err
	}
	return activity, nil
}

func (c *Client) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	if err := c.GetJSON(ctx, quizPath(quizID), &quiz); err != nil {
		if IsNotFound(err) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (c *Client) Groups(ctx context.Context, quizID string) ([]domain.Group, error) {
	var groups []domain.Group
	if err := c.GetJSON(ctx, quizPath(quizID)+"/groups", &groups); err != nil {
		if IsNotFound(err) {
			return nil, domain.ErrQuizNotFound
		}
		return nil, err
	}
	return groups, nil
}

func (c *Client) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	endpoint := fmt.Sprintf("/groups/%s/members/%s", url.PathEscape(groupID), url.PathEscape(userID))
	var resp membershipResponse
	if err := c.GetJSON(ctx, endpoint, &resp); err != nil {
		if IsNotFound(err) {
			return false, domain.ErrGroupNotFound
		}
		return false, err
	}
	return resp.Member, nil
}

func quizPath(quizID string) string {
	return "/quizzes/" + url.PathEscape(quizID)
}

func sessionPath(key domain.SessionKey) string {
	return quizPath(key.QuizID) + "/groups/" + url.PathEscape(key.GroupID)
}
