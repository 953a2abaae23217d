package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examgen/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db      *sql.DB
	authTTL time.Duration
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, authTTL: defaultAuthSessionTTL}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exam_configs (
		user_id INTEGER PRIMARY KEY,
		difficulty TEXT NOT NULL,
		experience TEXT NOT NULL,
		num_questions INTEGER NOT NULL,
		general_topic INTEGER NOT NULL DEFAULT 0,
		coding_languages TEXT NOT NULL DEFAULT '',
		mcq_format INTEGER NOT NULL DEFAULT 0,
		mcq_coding_format INTEGER NOT NULL DEFAULT 0,
		specific_instructions TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		difficulty TEXT NOT NULL,
		experience TEXT NOT NULL,
		num_questions INTEGER NOT NULL,
		general_topic INTEGER NOT NULL DEFAULT 0,
		coding_languages TEXT NOT NULL DEFAULT '',
		mcq_format INTEGER NOT NULL DEFAULT 0,
		mcq_coding_format INTEGER NOT NULL DEFAULT 0,
		specific_instructions TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		result_html TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_exam_sessions_status ON exam_sessions(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveConfig upserts a user's exam configuration. Each user keeps
// exactly one saved configuration.
func (s *Store) SaveConfig(cfg model.ExamConfig) error {
	_, err := s.db.Exec(
		`INSERT INTO exam_configs
		 (user_id, difficulty, experience, num_questions, general_topic, coding_languages,
		  mcq_format, mcq_coding_format, specific_instructions, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		  difficulty = excluded.difficulty,
		  experience = excluded.experience,
		  num_questions = excluded.num_questions,
		  general_topic = excluded.general_topic,
		  coding_languages = excluded.coding_languages,
		  mcq_format = excluded.mcq_format,
		  mcq_coding_format = excluded.mcq_coding_format,
		  specific_instructions = excluded.specific_instructions,
		  updated_at = excluded.updated_at`,
		cfg.UserID, cfg.Difficulty, cfg.Experience, cfg.NumQuestions, cfg.GeneralTopic,
		cfg.CodingLanguages, cfg.MCQFormat, cfg.MCQCodingFormat, cfg.SpecificInstructions,
		time.Now(),
	)
	return err
}

// GetConfig returns a user's saved exam configuration, or nil if the
// user has never saved one.
func (s *Store) GetConfig(userID int64) (*model.ExamConfig, error) {
	var cfg model.ExamConfig
	err := s.db.QueryRow(
		`SELECT user_id, difficulty, experience, num_questions, general_topic, coding_languages,
		        mcq_format, mcq_coding_format, specific_instructions, updated_at
		 FROM exam_configs WHERE user_id = ?`, userID,
	).Scan(&cfg.UserID, &cfg.Difficulty, &cfg.Experience, &cfg.NumQuestions, &cfg.GeneralTopic,
		&cfg.CodingLanguages, &cfg.MCQFormat, &cfg.MCQCodingFormat, &cfg.SpecificInstructions,
		&cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateSession creates a PENDING exam session with a snapshot of the
// given configuration and returns its id.
func (s *Store) CreateSession(userID int64, cfg model.ExamConfig) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO exam_sessions
		 (id, user_id, difficulty, experience, num_questions, general_topic, coding_languages,
		  mcq_format, mcq_coding_format, specific_instructions, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, cfg.Difficulty, cfg.Experience, cfg.NumQuestions, cfg.GeneralTopic,
		cfg.CodingLanguages, cfg.MCQFormat, cfg.MCQCodingFormat, cfg.SpecificInstructions,
		model.StatusPending, now, now,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

const sessionColumns = `id, user_id, difficulty, experience, num_questions, general_topic,
	coding_languages, mcq_format, mcq_coding_format, specific_instructions,
	status, result_html, created_at, updated_at`

func scanSession(row *sql.Row) (*model.ExamSession, error) {
	var sess model.ExamSession
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Config.Difficulty, &sess.Config.Experience,
		&sess.Config.NumQuestions, &sess.Config.GeneralTopic, &sess.Config.CodingLanguages,
		&sess.Config.MCQFormat, &sess.Config.MCQCodingFormat, &sess.Config.SpecificInstructions,
		&sess.Status, &sess.ResultHTML, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.Config.UserID = sess.UserID
	return &sess, nil
}

// GetSession returns a session by id, or nil if not found.
func (s *Store) GetSession(id string) (*model.ExamSession, error) {
	return scanSession(s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = ?`, id,
	))
}

// GetSessionForUser returns a session by id scoped to its owner,
// or nil if not found or owned by someone else.
func (s *Store) GetSessionForUser(id string, userID int64) (*model.ExamSession, error) {
	return scanSession(s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = ? AND user_id = ?`, id, userID,
	))
}

// GetSessionStatus reads only the status field. The coordinator polls
// this between iterations to observe external cancellation.
func (s *Store) GetSessionStatus(id string) (model.SessionStatus, error) {
	var status model.SessionStatus
	err := s.db.QueryRow(`SELECT status FROM exam_sessions WHERE id = ?`, id).Scan(&status)
	return status, err
}

// UpdateSessionStatus updates a session's status unconditionally.
func (s *Store) UpdateSessionStatus(id string, status model.SessionStatus) error {
	_, err := s.db.Exec(
		`UPDATE exam_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	return err
}

// FinishSession writes the terminal status and result markup in one
// statement. Sessions already in a terminal state are left untouched,
// so a cancellation observed elsewhere is never overwritten.
func (s *Store) FinishSession(id string, status model.SessionStatus, resultHTML string) error {
	_, err := s.db.Exec(
		`UPDATE exam_sessions SET status = ?, result_html = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status, resultHTML, time.Now(), id, model.StatusPending, model.StatusProcessing,
	)
	return err
}

// FailSession marks a session FAILED unless it already reached a
// terminal state. Used by the coordinator's crash cleanup and the reaper.
func (s *Store) FailSession(id string, resultHTML string) error {
	_, err := s.db.Exec(
		`UPDATE exam_sessions SET status = ?, result_html = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		model.StatusFailed, resultHTML, time.Now(), id, model.StatusPending, model.StatusProcessing,
	)
	return err
}

// CancelSession marks a non-terminal session CANCELLED if owned by the
// given user. Returns false when nothing matched.
func (s *Store) CancelSession(id string, userID int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE exam_sessions SET status = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND status IN (?, ?)`,
		model.StatusCancelled, time.Now(), id, userID, model.StatusPending, model.StatusProcessing,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSessionsForUser returns a user's sessions, newest first.
func (s *Store) ListSessionsForUser(userID int64) ([]model.ExamSession, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.ExamSession
	for rows.Next() {
		var sess model.ExamSession
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Config.Difficulty, &sess.Config.Experience,
			&sess.Config.NumQuestions, &sess.Config.GeneralTopic, &sess.Config.CodingLanguages,
			&sess.Config.MCQFormat, &sess.Config.MCQCodingFormat, &sess.Config.SpecificInstructions,
			&sess.Status, &sess.ResultHTML, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.Config.UserID = sess.UserID
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ReapStuckSessions fails every PROCESSING session whose last update is
// older than the cutoff. Returns the number of sessions reaped.
func (s *Store) ReapStuckSessions(cutoff time.Time, resultHTML string) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE exam_sessions SET status = ?, result_html = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		model.StatusFailed, resultHTML, time.Now(), model.StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
