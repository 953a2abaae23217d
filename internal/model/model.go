package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleUser is a regular user role.
	UserRoleUser UserRole = "user"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. Login accepts either the username or
// the email address.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Difficulty represents the target exam difficulty.
type Difficulty string

const (
	DifficultyBeginner Difficulty = "Beginner"
	DifficultyMedium   Difficulty = "Medium"
	DifficultyAdvanced Difficulty = "Advanced"
)

// ExperienceLevel represents the candidate's professional experience.
type ExperienceLevel string

const (
	ExperienceFresher ExperienceLevel = "Fresher"
	ExperienceJunior  ExperienceLevel = "1-3 Years"
	ExperienceMid     ExperienceLevel = "4-5 Years"
	ExperienceSenior  ExperienceLevel = "5+ Years"
)

// SessionStatus represents the status of an exam generation session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "PENDING"
	StatusProcessing SessionStatus = "PROCESSING"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusCancelled  SessionStatus = "CANCELLED"
	StatusFailed     SessionStatus = "FAILED"
)

// Terminal reports whether no further status transitions are allowed.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// ExamConfig holds a user's saved exam generation parameters.
// A snapshot of it is copied into each ExamSession at creation time.
type ExamConfig struct {
	UserID               int64           `json:"-"`
	Difficulty           Difficulty      `json:"difficulty" validate:"required,oneof=Beginner Medium Advanced"`
	Experience           ExperienceLevel `json:"experience" validate:"required,oneof=Fresher '1-3 Years' '4-5 Years' '5+ Years'"`
	NumQuestions         int             `json:"num_questions" validate:"required,gt=0,lte=50"`
	GeneralTopic         bool            `json:"general_topic"`
	CodingLanguages      string          `json:"coding_languages" validate:"max=255"`
	MCQFormat            bool            `json:"mcq_format"`
	MCQCodingFormat      bool            `json:"mcq_coding_format"`
	SpecificInstructions string          `json:"specific_instructions"`
	UpdatedAt            time.Time       `json:"-"`
}

// Topic returns the effective topic string used in prompts.
func (c ExamConfig) Topic() string {
	if c.GeneralTopic {
		return "General Programming & Computer Science"
	}
	return c.CodingLanguages
}

// Format returns the question format requested by the config.
func (c ExamConfig) Format() string {
	if c.MCQFormat {
		return "MCQ"
	}
	return "Subjective"
}

// ExamSession is one unit of generation work. The embedded config is a
// snapshot taken at creation time and never changes for that session.
type ExamSession struct {
	ID         string        `json:"id"`
	UserID     int64         `json:"-"`
	Config     ExamConfig    `json:"config"`
	Status     SessionStatus `json:"status"`
	ResultHTML string        `json:"result_html,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// ExamQuestion is a single generated question.
type ExamQuestion struct {
	ID            int      `json:"id"`
	Type          string   `json:"type"`
	Text          string   `json:"question_text"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

// ExamDocument is one generated exam draft. It lives in memory only;
// sessions persist the formatted HTML, never the document itself.
type ExamDocument struct {
	Title     string         `json:"exam_title"`
	Summary   string         `json:"summary"`
	Questions []ExamQuestion `json:"questions"`
}

// Evaluation is the quality judgment for one draft. Approved mirrors
// the evaluator's own opinion (score > 85) and is advisory only; the
// coordinator applies its own accept threshold.
type Evaluation struct {
	Score    int    `json:"score"`
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}
