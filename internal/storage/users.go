package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetUser returns the user with the given ID, or ErrNotFound.
func (s *Store) GetUser(id int64) (*User, error) {
	row := s.db.QueryRow(`
		SELECT user_id, username, state, current_question, answers, joined_at, invite_links, rejection_prompt_id, review_message_id
		FROM users WHERE user_id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a fresh idle user and returns it.
func (s *Store) CreateUser(id int64, username string) (*User, error) {
	u := &User{
		ID:          id,
		Username:    username,
		State:       StateIdle,
		Answers:     []Answer{},
		JoinedAt:    time.Now().UTC(),
		InviteLinks: []string{},
	}
	answers, links, err := marshalUserJSON(u)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`
		INSERT INTO users (user_id, username, state, current_question, answers, joined_at, invite_links, rejection_prompt_id, review_message_id)
		VALUES (?, ?, ?, 0, ?, ?, ?, NULL, NULL)`,
		u.ID, nullIfEmpty(u.Username), u.State, answers, u.JoinedAt.Format(time.RFC3339), links,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user %d: %w", id, err)
	}
	return u, nil
}

// UpdateUser persists every mutable field of the user row. Concurrent
// writers are last-write-wins; reviewer actions are human-rate.
func (s *Store) UpdateUser(u *User) error {
	answers, links, err := marshalUserJSON(u)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE users
		SET username = ?, state = ?, current_question = ?, answers = ?, joined_at = ?, invite_links = ?, rejection_prompt_id = ?, review_message_id = ?
		WHERE user_id = ?`,
		nullIfEmpty(u.Username), u.State, u.CurrentQuestion, answers,
		u.JoinedAt.Format(time.RFC3339), links,
		nullIfZero(u.RejectionPromptID), nullIfZero(u.ReviewMessageID), u.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user %d: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns every user, oldest first.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`
		SELECT user_id, username, state, current_question, answers, joined_at, invite_links, rejection_prompt_id, review_message_id
		FROM users ORDER BY joined_at ASC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// FindByRejectionPrompt returns the pending_rejection user whose reason
// prompt has the given message ID, or ErrNotFound.
func (s *Store) FindByRejectionPrompt(promptID int64) (*User, error) {
	row := s.db.QueryRow(`
		SELECT user_id, username, state, current_question, answers, joined_at, invite_links, rejection_prompt_id, review_message_id
		FROM users WHERE state = ? AND rejection_prompt_id = ?`,
		StatePendingRejection, promptID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CountByState returns the number of users per state.
func (s *Store) CountByState() (map[UserState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM users GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[UserState]int)
	for rows.Next() {
		var state UserState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var username sql.NullString
	var answers, links, joinedAt string
	var rejectionPrompt, reviewMsg sql.NullInt64
	if err := row.Scan(&u.ID, &username, &u.State, &u.CurrentQuestion, &answers, &joinedAt, &links, &rejectionPrompt, &reviewMsg); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.RejectionPromptID = rejectionPrompt.Int64
	u.ReviewMessageID = reviewMsg.Int64

	t, err := time.Parse(time.RFC3339, joinedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing joined_at for user %d: %w", u.ID, err)
	}
	u.JoinedAt = t

	if err := json.Unmarshal([]byte(answers), &u.Answers); err != nil {
		return nil, fmt.Errorf("parsing answers for user %d: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(links), &u.InviteLinks); err != nil {
		return nil, fmt.Errorf("parsing invite_links for user %d: %w", u.ID, err)
	}
	return &u, nil
}

func marshalUserJSON(u *User) (answers, links string, err error) {
	if u.Answers == nil {
		u.Answers = []Answer{}
	}
	if u.InviteLinks == nil {
		u.InviteLinks = []string{}
	}
	a, err := json.Marshal(u.Answers)
	if err != nil {
		return "", "", fmt.Errorf("marshalling answers: %w", err)
	}
	l, err := json.Marshal(u.InviteLinks)
	if err != nil {
		return "", "", fmt.Errorf("marshalling invite_links: %w", err)
	}
	return string(a), string(l), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
