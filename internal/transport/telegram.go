package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to the Telegram Bot API over HTTPS. It is the primary
// transport channel; payloads over the Bot API size ceiling surface
// ErrFileTooBig and are handled by the fallback transfer path.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the given bot token. baseURL is normally
// "https://api.telegram.org"; tests point it at a local server.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			// Long polling holds connections open past any sane default.
			Timeout: 0,
		},
	}
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// APIError is an ordinary Bot API rejection, carrying the method and the
// platform's error description.
type APIError struct {
	Method      string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Description)
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshalling %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !env.OK {
		return mapAPIError(method, env.Description)
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// mapAPIError converts well-known Bot API error descriptions into sentinel
// errors the workflow branches on.
func mapAPIError(method, description string) error {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "too big"):
		return fmt.Errorf("%s: %s: %w", method, description, ErrFileTooBig)
	case strings.Contains(lower, "rights to manage chat invite link"):
		return fmt.Errorf("%s: %s: %w", method, description, ErrNoInviteRights)
	default:
		return &APIError{Method: method, Description: description}
	}
}

// --- wire types ---

type wireUpdate struct {
	UpdateID      int64          `json:"update_id"`
	Message       *wireMessage   `json:"message"`
	CallbackQuery *wireCallback  `json:"callback_query"`
}

type wireMessage struct {
	MessageID int64        `json:"message_id"`
	Chat      wireChat     `json:"chat"`
	From      *wireUser    `json:"from"`
	Text      string       `json:"text"`
	ReplyTo   *wireMessage `json:"reply_to_message"`
	Audio     *wireFile    `json:"audio"`
	Voice     *wireFile    `json:"voice"`
	Document  *wireFile    `json:"document"`
	Date      int64        `json:"date"`
}

type wireChat struct {
	ID         int64  `json:"id"`
	Type       string `json:"type"`
	Username   string `json:"username"`
	InviteLink string `json:"invite_link"`
}

type wireUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type wireFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type wireCallback struct {
	ID      string       `json:"id"`
	From    wireUser     `json:"from"`
	Message *wireMessage `json:"message"`
	Data    string       `json:"data"`
}

func (w *wireMessage) toMessage() *Message {
	if w == nil {
		return nil
	}
	m := &Message{
		ID: w.MessageID,
		Chat: Chat{
			ID:         w.Chat.ID,
			Type:       w.Chat.Type,
			Username:   w.Chat.Username,
			InviteLink: w.Chat.InviteLink,
		},
		Text:    w.Text,
		ReplyTo: w.ReplyTo.toMessage(),
		Date:    time.Unix(w.Date, 0).UTC(),
	}
	if w.From != nil {
		m.From = &UserRef{ID: w.From.ID, Username: w.From.Username}
	}
	m.Audio = w.Audio.toFileRef()
	m.Voice = w.Voice.toFileRef()
	m.Document = w.Document.toFileRef()
	return m
}

func (w *wireFile) toFileRef() *FileRef {
	if w == nil {
		return nil
	}
	return &FileRef{
		FileID:   w.FileID,
		FileName: w.FileName,
		MIMEType: w.MIMEType,
		Size:     w.FileSize,
	}
}

// --- methods ---

// GetUpdates long-polls for inbound events after the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := map[string]any{
		"offset":  offset,
		"timeout": int(timeout.Seconds()),
	}
	var wire []wireUpdate
	if err := c.call(ctx, "getUpdates", params, &wire); err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(wire))
	for _, w := range wire {
		u := Update{ID: w.UpdateID, Message: w.Message.toMessage()}
		if w.CallbackQuery != nil {
			u.CallbackQuery = &CallbackQuery{
				ID:      w.CallbackQuery.ID,
				From:    UserRef{ID: w.CallbackQuery.From.ID, Username: w.CallbackQuery.From.Username},
				Message: w.CallbackQuery.Message.toMessage(),
				Data:    w.CallbackQuery.Data,
			}
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// SendMessage sends plain text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (*Message, error) {
	return c.sendMessage(ctx, map[string]any{"chat_id": chatID, "text": text})
}

// SendMessageWithKeyboard sends text with an inline keyboard attached.
func (c *Client) SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]Button) (*Message, error) {
	rows := make([][]map[string]string, len(keyboard))
	for i, row := range keyboard {
		rows[i] = make([]map[string]string, len(row))
		for j, b := range row {
			rows[i][j] = map[string]string{"text": b.Text, "callback_data": b.CallbackData}
		}
	}
	return c.sendMessage(ctx, map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": map[string]any{"inline_keyboard": rows},
	})
}

func (c *Client) sendMessage(ctx context.Context, params map[string]any) (*Message, error) {
	var wire wireMessage
	if err := c.call(ctx, "sendMessage", params, &wire); err != nil {
		return nil, err
	}
	return wire.toMessage(), nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	return c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

// ClearKeyboard removes the inline keyboard from a message, retiring its
// affordances.
func (c *Client) ClearKeyboard(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "editMessageReplyMarkup", map[string]any{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": map[string]any{"inline_keyboard": [][]any{}},
	}, nil)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// ChatMemberStatus returns the membership status string for a user in a chat.
func (c *Client) ChatMemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	var result struct {
		Status string `json:"status"`
	}
	err := c.call(ctx, "getChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.Status, nil
}

// GetChat returns chat metadata, including the permanent invite link for
// private groups.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var wire wireChat
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": chatID}, &wire); err != nil {
		return nil, err
	}
	return &Chat{ID: wire.ID, Type: wire.Type, Username: wire.Username, InviteLink: wire.InviteLink}, nil
}

// CreateInviteLink creates a fresh single-use invite link (member limit 1).
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64) (*InviteLink, error) {
	var result struct {
		InviteLink string `json:"invite_link"`
	}
	err := c.call(ctx, "createChatInviteLink", map[string]any{
		"chat_id":      chatID,
		"member_limit": 1,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &InviteLink{Link: result.InviteLink}, nil
}

// RevokeInviteLink revokes a previously issued link. An already-revoked or
// unknown link is an APIError the caller may tolerate.
func (c *Client) RevokeInviteLink(ctx context.Context, chatID int64, link string) error {
	return c.call(ctx, "revokeChatInviteLink", map[string]any{
		"chat_id":     chatID,
		"invite_link": link,
	}, nil)
}

// IsAPIRejection reports whether an error is an ordinary Bot API rejection
// (as opposed to a sentinel or network failure). Used to tolerate
// already-revoked links and already-deleted messages.
func IsAPIRejection(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

// DownloadFile fetches a file through the primary Bot API channel into
// destPath. Files over the channel's ceiling return ErrFileTooBig.
func (c *Client) DownloadFile(ctx context.Context, fileID, destPath string) error {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading file: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return out.Close()
}

// SendDocument uploads a file to a chat as a document attachment.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("creating sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendDocument request: %w", err)
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding sendDocument response: %w", err)
	}
	if !env.OK {
		return mapAPIError("sendDocument", env.Description)
	}
	return nil
}
