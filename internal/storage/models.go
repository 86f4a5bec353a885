package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// UserState is the admission workflow state of a candidate.
type UserState string

const (
	StateIdle             UserState = "idle"
	StateInSurvey         UserState = "in_survey"
	StatePendingApproval  UserState = "pending_approval"
	StatePendingRejection UserState = "pending_rejection"
	StateApproved         UserState = "approved"
	StateRejected         UserState = "rejected"
)

// Answer is one survey question/answer pair. Answers are stored as an
// ordered list so the export and review views follow question order.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// User is one candidate record. Users are created on first contact and
// never deleted; terminal states keep the row as an audit trail.
type User struct {
	ID              int64
	Username        string
	State           UserState
	CurrentQuestion int
	Answers         []Answer
	JoinedAt        time.Time
	InviteLinks     []string
	// RejectionPromptID references the outstanding "reply with a reason"
	// reviewer prompt while the user is pending_rejection. Zero means none.
	RejectionPromptID int64
	// ReviewMessageID references the original review-request message so its
	// approve/reject affordances can be stripped once decided. Zero means none.
	ReviewMessageID int64
}

// AnswerFor returns the stored answer for a question, if any.
func (u *User) AnswerFor(question string) (string, bool) {
	for _, a := range u.Answers {
		if a.Question == question {
			return a.Answer, true
		}
	}
	return "", false
}

// JobStatus is one background pipeline job row, keyed by the target
// artifact path. A row is terminal once FullyDone is set or Error is
// non-empty; terminal rows are kept for audit and never count as active.
type JobStatus struct {
	ID                 string
	ArtifactPath       string
	Progress           float64
	StartedAt          time.Time
	TranscriptionDone  bool
	ExtractingInsights bool
	FullyDone          bool
	Error              string
}

// Terminal reports whether the row can no longer occupy the job slot.
func (j *JobStatus) Terminal() bool {
	return j.FullyDone || j.Error != ""
}
