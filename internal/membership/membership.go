// Package membership drives the admission workflow: survey collection,
// reviewer decisions, and the resulting notifications.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kalambet/gatekeeper/internal/invite"
	"github.com/kalambet/gatekeeper/internal/storage"
	"github.com/kalambet/gatekeeper/internal/transport"
)

// Store is the persistence surface the state machine needs.
type Store interface {
	GetUser(id int64) (*storage.User, error)
	CreateUser(id int64, username string) (*storage.User, error)
	UpdateUser(u *storage.User) error
	FindByRejectionPrompt(promptID int64) (*storage.User, error)
}

// Messenger is the outbound transport surface.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (*transport.Message, error)
	SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]transport.Button) (*transport.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	ClearKeyboard(ctx context.Context, chatID, messageID int64) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	ChatMemberStatus(ctx context.Context, chatID, userID int64) (string, error)
	GetChat(ctx context.Context, chatID int64) (*transport.Chat, error)
}

// Granter issues single-use invite links.
type Granter interface {
	Grant(ctx context.Context, u *storage.User) (string, error)
}

// Archiver snapshots the user table and ships it off-box. Invoked
// best-effort after every transition reaching approved or rejected.
type Archiver interface {
	ExportAndArchive(ctx context.Context) error
}

// Service is the admission state machine. All state lives in the store;
// every handler is safe to call from the dispatcher goroutine.
type Service struct {
	store     Store
	msgr      Messenger
	granter   Granter
	archiver  Archiver
	questions []string
	adminID   int64
	targetID  int64
	logger    *slog.Logger

	// spawn runs fire-and-forget work. Tests replace it to run inline.
	spawn func(func())
}

// NewService wires the state machine. archiver may be nil to disable the
// post-decision export.
func NewService(store Store, msgr Messenger, granter Granter, archiver Archiver, questions []string, adminGroupID, targetGroupID int64) *Service {
	return &Service{
		store:     store,
		msgr:      msgr,
		granter:   granter,
		archiver:  archiver,
		questions: questions,
		adminID:   adminGroupID,
		targetID:  targetGroupID,
		logger:    slog.Default(),
		spawn:     func(f func()) { go f() },
	}
}

func displayName(u *storage.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

const welcomeText = "👋 Welcome to the Super-Individual Secret Club!\n" +
	"🎯We're a space where sharp minds gather to stay AI-ready, challenge boundaries, and explore bold ideas shaping the future.\n\n" +
	"To keep this circle intentional, we ask a few quick questions before letting you in.\n" +
	"🧠 It won't take long — just helps us make sure the right people are in the room.\n" +
	"👇 Let's begin:\n\n"

// HandleStart processes an entry event from a private chat.
func (s *Service) HandleStart(ctx context.Context, userID int64, username string) error {
	u, err := s.store.GetUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		u, err = s.store.CreateUser(userID, username)
	}
	if err != nil {
		return fmt.Errorf("loading user %d: %w", userID, err)
	}

	// Already-a-member short-circuit, regardless of recorded state. A
	// failed lookup falls through to the normal flow.
	if link, ok := s.existingMemberLink(ctx, userID); ok {
		_, err := s.msgr.SendMessage(ctx, userID,
			"You are already a member of the group! Click here to open the chat: "+link)
		return err
	}

	switch u.State {
	case storage.StateApproved:
		return s.regrantOnStart(ctx, u)
	case storage.StatePendingApproval:
		_, err := s.msgr.SendMessage(ctx, userID,
			"Your request is pending approval. Please wait for admin review.")
		return err
	}

	u.State = storage.StateInSurvey
	u.CurrentQuestion = 0
	u.Answers = []storage.Answer{}
	u.Username = username
	if err := s.store.UpdateUser(u); err != nil {
		return fmt.Errorf("starting survey for user %d: %w", userID, err)
	}

	_, err = s.msgr.SendMessage(ctx, userID,
		welcomeText+fmt.Sprintf("Question 1: %s", s.questions[0]))
	return err
}

// existingMemberLink reports whether the user already belongs to the target
// group and, if so, returns the link to open it.
func (s *Service) existingMemberLink(ctx context.Context, userID int64) (string, bool) {
	status, err := s.msgr.ChatMemberStatus(ctx, s.targetID, userID)
	if err != nil || !transport.ActiveMember(status) {
		return "", false
	}
	chat, err := s.msgr.GetChat(ctx, s.targetID)
	if err != nil {
		return "", false
	}
	if chat.Username != "" {
		return "https://t.me/" + chat.Username, true
	}
	return chat.InviteLink, true
}

// regrantOnStart re-issues a fresh link to an already-approved user. On a
// privilege failure the user is asked to wait and reviewers are alerted.
func (s *Service) regrantOnStart(ctx context.Context, u *storage.User) error {
	link, err := s.granter.Grant(ctx, u)
	if errors.Is(err, invite.ErrInsufficientPrivilege) {
		if _, err := s.msgr.SendMessage(ctx, u.ID,
			"You were already approved! Please wait while I notify the admins to help you join."); err != nil {
			return err
		}
		_, err := s.msgr.SendMessage(ctx, s.adminID, fmt.Sprintf(
			"⚠️ Cannot create invite link for approved user %s because bot "+
				"needs admin rights in the target group. Please make the bot an admin or help the user join manually.",
			displayName(u)))
		return err
	}
	if err != nil {
		return err
	}
	_, err = s.msgr.SendMessage(ctx, u.ID,
		"You were already approved! Here's a new invite link to join: "+link)
	return err
}

// HandleSurveyMessage processes a message from a user while their survey
// may be in flight. text is empty for non-text payloads, which re-prompt
// without advancing.
func (s *Service) HandleSurveyMessage(ctx context.Context, userID int64, text string) error {
	u, err := s.store.GetUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading user %d: %w", userID, err)
	}
	if u.State != storage.StateInSurvey {
		return nil
	}

	if text == "" {
		_, err := s.msgr.SendMessage(ctx, userID, fmt.Sprintf(
			"Please send your answer as text only. Images, audio, or other media are not accepted.\n\n"+
				"Question %d: %s",
			u.CurrentQuestion+1, s.questions[u.CurrentQuestion]))
		return err
	}

	u.Answers = append(u.Answers, storage.Answer{
		Question: s.questions[u.CurrentQuestion],
		Answer:   text,
	})
	u.CurrentQuestion++

	if u.CurrentQuestion < len(s.questions) {
		if err := s.store.UpdateUser(u); err != nil {
			return fmt.Errorf("saving answer for user %d: %w", userID, err)
		}
		_, err := s.msgr.SendMessage(ctx, userID, fmt.Sprintf(
			"Question %d: %s", u.CurrentQuestion+1, s.questions[u.CurrentQuestion]))
		return err
	}

	u.State = storage.StatePendingApproval
	if err := s.store.UpdateUser(u); err != nil {
		return fmt.Errorf("completing survey for user %d: %w", userID, err)
	}

	if _, err := s.msgr.SendMessage(ctx, userID,
		"Thank you for completing the survey! Your request has been sent to the admins for review."); err != nil {
		return err
	}
	return s.sendReviewRequest(ctx, u)
}

// sendReviewRequest fans the completed survey out to reviewers with
// approve/reject affordances and records the review message so the buttons
// can be retired once decided.
func (s *Service) sendReviewRequest(ctx context.Context, u *storage.User) error {
	var lines []string
	for _, a := range u.Answers {
		lines = append(lines, fmt.Sprintf("%s: %s", a.Question, a.Answer))
	}

	keyboard := [][]transport.Button{{
		{Text: "Approve", CallbackData: fmt.Sprintf("approve_%d", u.ID)},
		{Text: "Reject", CallbackData: fmt.Sprintf("reject_%d", u.ID)},
	}}
	msg, err := s.msgr.SendMessageWithKeyboard(ctx, s.adminID, fmt.Sprintf(
		"New join request from %s:\n\n%s", displayName(u), strings.Join(lines, "\n")), keyboard)
	if err != nil {
		return fmt.Errorf("sending review request for user %d: %w", u.ID, err)
	}

	u.ReviewMessageID = msg.ID
	if err := s.store.UpdateUser(u); err != nil {
		return fmt.Errorf("recording review message for user %d: %w", u.ID, err)
	}
	return nil
}

// HandleReviewDecision processes an approve/reject button press from the
// reviewer group.
func (s *Service) HandleReviewDecision(ctx context.Context, cb *transport.CallbackQuery) error {
	if err := s.msgr.AnswerCallback(ctx, cb.ID, ""); err != nil && !transport.IsAPIRejection(err) {
		s.logger.Warn("answering callback", "error", err)
	}

	action, userID, ok := parseDecision(cb.Data)
	if !ok || cb.Message == nil {
		return nil
	}

	u, err := s.store.GetUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.msgr.EditMessageText(ctx, s.adminID, cb.Message.ID, "User not found in database.")
	}
	if err != nil {
		return fmt.Errorf("loading user %d: %w", userID, err)
	}

	if _, ok := s.existingMemberLink(ctx, userID); ok {
		return s.msgr.EditMessageText(ctx, s.adminID, cb.Message.ID,
			"User is already a member of the target group.")
	}

	if u.State == storage.StateApproved {
		return s.resendInvite(ctx, u, cb.Message.ID)
	}
	if u.State != storage.StatePendingApproval && u.State != storage.StatePendingRejection {
		return s.msgr.EditMessageText(ctx, s.adminID, cb.Message.ID, "This request is no longer valid.")
	}

	switch action {
	case "approve":
		return s.approve(ctx, u, cb)
	case "reject":
		return s.beginRejection(ctx, u)
	}
	return nil
}

func parseDecision(data string) (action string, userID int64, ok bool) {
	action, idText, found := strings.Cut(data, "_")
	if !found {
		return "", 0, false
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return action, id, true
}

// resendInvite handles an approve press on a user who is already approved
// but has not joined yet.
func (s *Service) resendInvite(ctx context.Context, u *storage.User, reviewMsgID int64) error {
	link, err := s.granter.Grant(ctx, u)
	if errors.Is(err, invite.ErrInsufficientPrivilege) {
		_, err := s.msgr.SendMessage(ctx, s.adminID,
			"⚠️ Cannot create invite link because bot needs admin rights in the target group. "+
				"Please make the bot an admin first before approving requests.")
		return err
	}
	if err != nil {
		return err
	}
	if _, err := s.msgr.SendMessage(ctx, u.ID,
		"Here's a new invite link to join the group: "+link); err != nil {
		return err
	}
	return s.msgr.EditMessageText(ctx, s.adminID, reviewMsgID, fmt.Sprintf(
		"User %s was already approved. Sent new invite link.", displayName(u)))
}

// approve grants access. On a privilege failure the state is preserved so
// the reviewer can retry after fixing bot rights.
func (s *Service) approve(ctx context.Context, u *storage.User, cb *transport.CallbackQuery) error {
	// An approve press cancels an outstanding rejection-reason prompt.
	if u.State == storage.StatePendingRejection && u.RejectionPromptID != 0 {
		if err := s.msgr.DeleteMessage(ctx, s.adminID, u.RejectionPromptID); err != nil && !transport.IsAPIRejection(err) {
			s.logger.Warn("deleting rejection prompt", "user_id", u.ID, "error", err)
		}
		u.RejectionPromptID = 0
	}

	link, err := s.granter.Grant(ctx, u)
	if errors.Is(err, invite.ErrInsufficientPrivilege) {
		if _, err := s.msgr.SendMessage(ctx, s.adminID,
			"⚠️ Cannot approve request because bot needs admin rights in the target group. "+
				"Please make the bot an admin first before approving requests."); err != nil {
			return err
		}
		return s.msgr.AnswerCallback(ctx, cb.ID, "Cannot approve - bot needs admin rights")
	}
	if err != nil {
		return err
	}

	u.State = storage.StateApproved
	if err := s.store.UpdateUser(u); err != nil {
		return fmt.Errorf("approving user %d: %w", u.ID, err)
	}

	if _, err := s.msgr.SendMessage(ctx, u.ID,
		"Your join request has been approved! Click here to join: "+link); err != nil {
		return err
	}
	if err := s.msgr.ClearKeyboard(ctx, s.adminID, cb.Message.ID); err != nil && !transport.IsAPIRejection(err) {
		s.logger.Warn("clearing review keyboard", "user_id", u.ID, "error", err)
	}
	if _, err := s.msgr.SendMessage(ctx, s.adminID, fmt.Sprintf(
		"Request from %s has been approved.", displayName(u))); err != nil {
		return err
	}

	s.archiveAsync()
	return nil
}

// beginRejection opens the free-text reason prompt. A repeated reject while
// one is already open is a no-op.
func (s *Service) beginRejection(ctx context.Context, u *storage.User) error {
	if u.State == storage.StatePendingRejection {
		return nil
	}

	prompt, err := s.msgr.SendMessage(ctx, s.adminID, fmt.Sprintf(
		"Please reply to this message with the reason for rejecting %s's request.", displayName(u)))
	if err != nil {
		return fmt.Errorf("sending rejection prompt for user %d: %w", u.ID, err)
	}

	u.State = storage.StatePendingRejection
	u.RejectionPromptID = prompt.ID
	if err := s.store.UpdateUser(u); err != nil {
		return fmt.Errorf("recording rejection prompt for user %d: %w", u.ID, err)
	}
	return nil
}

// HandleRejectionReason processes a reviewer reply carrying the free-text
// rejection reason. Replies to anything other than an outstanding reason
// prompt are ignored.
func (s *Service) HandleRejectionReason(ctx context.Context, msg *transport.Message) error {
	if msg.ReplyTo == nil {
		return nil
	}
	u, err := s.store.FindByRejectionPrompt(msg.ReplyTo.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving rejection prompt %d: %w", msg.ReplyTo.ID, err)
	}

	reason := strings.TrimSpace(msg.Text)
	if reason == "" {
		_, err := s.msgr.SendMessage(ctx, s.adminID, "Please provide a valid rejection reason.")
		return err
	}

	promptID := u.RejectionPromptID
	u.State = storage.StateRejected
	u.RejectionPromptID = 0
	if err := s.store.UpdateUser(u); err != nil {
		return fmt.Errorf("rejecting user %d: %w", u.ID, err)
	}

	if _, err := s.msgr.SendMessage(ctx, u.ID,
		"Sorry, your join request has been rejected.\nReason: "+reason); err != nil {
		return err
	}

	// Retire the review affordances and tidy up the prompt exchange.
	// These edits race with reviewers deleting messages by hand, so
	// transport rejections are swallowed.
	if u.ReviewMessageID != 0 {
		if err := s.msgr.ClearKeyboard(ctx, s.adminID, u.ReviewMessageID); err != nil && !transport.IsAPIRejection(err) {
			s.logger.Warn("clearing review keyboard", "user_id", u.ID, "error", err)
		}
	}
	for _, id := range []int64{msg.ID, promptID} {
		if err := s.msgr.DeleteMessage(ctx, s.adminID, id); err != nil && !transport.IsAPIRejection(err) {
			s.logger.Warn("deleting rejection exchange message", "user_id", u.ID, "error", err)
		}
	}

	if _, err := s.msgr.SendMessage(ctx, s.adminID, fmt.Sprintf(
		"✅ Rejection completed for %s\nReason: %s", displayName(u), reason)); err != nil {
		return err
	}

	s.archiveAsync()
	return nil
}

// archiveAsync kicks off the best-effort user-table export. Failures are
// reported to reviewers and never revert the state transition.
func (s *Service) archiveAsync() {
	if s.archiver == nil {
		return
	}
	s.spawn(func() {
		ctx := context.Background()
		if err := s.archiver.ExportAndArchive(ctx); err != nil {
			s.logger.Error("exporting user data", "error", err)
			if _, serr := s.msgr.SendMessage(ctx, s.adminID,
				"❌ Error exporting/uploading data: "+err.Error()); serr != nil {
				s.logger.Error("reporting export failure", "error", serr)
			}
		}
	})
}
