// Package matrix implements the Matrix chat upstream: it logs in with a
// password, reads link commands from joined rooms through incremental sync
// and posts notices back.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"acc_linker/internal/command"
	"acc_linker/internal/domain"
)

const Kind = "Matrix"

const clientAPI = "/_matrix/client/v3"

type Config struct {
	HomeserverURL string
	Login         string
	Password      string
	CommandPrefix string
	Timeout       time.Duration
	ReplayBacklog bool
	// ChallengePhrase is quoted in pending-verification notices.
	ChallengePhrase string
}

type Upstream struct {
	httpClient    *http.Client
	baseURL       string
	login         string
	password      string
	prefix        string
	phrase        string
	replayBacklog bool
	logger        *slog.Logger

	mu          sync.Mutex
	accessToken string
	userID      string
	since       string
}

func New(cfg Config, logger *slog.Logger) (*Upstream, error) {
	if _, err := url.Parse(cfg.HomeserverURL); err != nil || cfg.HomeserverURL == "" {
		return nil, fmt.Errorf("invalid homeserver url %q", cfg.HomeserverURL)
	}
	if cfg.ChallengePhrase == "" {
		cfg.ChallengePhrase = domain.ChallengePhrase
	}

	return &Upstream{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		baseURL:       strings.TrimRight(cfg.HomeserverURL, "/"),
		login:         cfg.Login,
		password:      cfg.Password,
		prefix:        cfg.CommandPrefix,
		phrase:        cfg.ChallengePhrase,
		replayBacklog: cfg.ReplayBacklog,
		logger:        logger.With("upstream", Kind),
	}, nil
}

func (u *Upstream) Kind() string {
	return Kind
}

// Connect logs in unless an access token is already held.
func (u *Upstream) Connect(ctx context.Context) error {
	if u.token() != "" {
		return nil
	}

	body, err := u.doRequest(ctx, http.MethodPost, clientAPI+"/login", "", loginRequest{
		Type:                     "m.login.password",
		User:                     u.login,
		Password:                 u.password,
		InitialDeviceDisplayName: "acc-linker",
	}, nil)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("login: empty access token")
	}

	u.mu.Lock()
	u.accessToken = resp.AccessToken
	u.userID = resp.UserID
	u.mu.Unlock()

	u.logger.Info("logged in to matrix", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// CheckCommands syncs from the last position, joins rooms the bot was
// invited to and returns the commands found in new room messages. The first
// sync only records the position unless backlog replay is enabled.
func (u *Upstream) CheckCommands(ctx context.Context) ([]domain.Command, error) {
	u.mu.Lock()
	since := u.since
	u.mu.Unlock()

	query := url.Values{}
	query.Set("timeout", "0")
	if since != "" {
		query.Set("since", since)
	}

	var resp syncResponse
	if err := u.authed(ctx, http.MethodGet, clientAPI+"/sync", nil, query, &resp); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	u.mu.Lock()
	u.since = resp.NextBatch
	u.mu.Unlock()

	for _, roomID := range slices.Sorted(maps.Keys(resp.Rooms.Invite)) {
		if err := u.join(ctx, roomID); err != nil {
			u.logger.Warn("failed to join room", "room_id", roomID, "error", err)
			continue
		}
		u.logger.Info("joined room", "room_id", roomID)
	}

	if since == "" && !u.replayBacklog {
		return nil, nil
	}

	return u.captureCommands(resp.Rooms.Join), nil
}

func (u *Upstream) captureCommands(rooms map[string]joinedRoom) []domain.Command {
	self := u.self()

	var commands []domain.Command
	for _, roomID := range slices.Sorted(maps.Keys(rooms)) {
		for _, ev := range rooms[roomID].Timeline.Events {
			if ev.Type != eventTypeMessage || ev.Sender == self {
				continue
			}

			var content messageContent
			if err := json.Unmarshal(ev.Content, &content); err != nil || content.MsgType != msgTypeText {
				continue
			}
			if !strings.HasPrefix(content.Body, u.prefix) {
				continue
			}

			origin := command.Origin{UpstreamKind: Kind, ChatID: roomID, UserID: ev.Sender}
			cmd, err := command.Parse(origin, strings.TrimPrefix(content.Body, u.prefix))
			if err != nil {
				u.logger.Warn("couldn't parse command",
					"room_id", roomID,
					"sender", ev.Sender,
					"body", content.Body,
					"error", err,
				)
				continue
			}
			if cmd == nil {
				continue
			}
			commands = append(commands, *cmd)
		}
	}
	return commands
}

func (u *Upstream) join(ctx context.Context, roomID string) error {
	return u.authed(ctx, http.MethodPost, clientAPI+"/join/"+url.PathEscape(roomID), struct{}{}, nil, nil)
}

// PushUpdate posts item to the room as an HTML notice.
func (u *Upstream) PushUpdate(ctx context.Context, chatID string, item domain.Item) error {
	eventID, err := u.send(ctx, chatID, messageContent{
		MsgType:       msgTypeNotice,
		Body:          item.Summary(),
		Format:        formatHTML,
		FormattedBody: item.HTML(),
	})
	if err != nil {
		return fmt.Errorf("push update to %s: %w", chatID, err)
	}
	u.logger.Debug("update posted", "room_id", chatID, "event_id", eventID)
	return nil
}

func (u *Upstream) ReportDuplicate(ctx context.Context, link domain.Link) error {
	name := u.displayName(ctx, link.UserID)
	return u.notice(ctx, link.ChatID, fmt.Sprintf("%s: Link to %s is already present!", name, link.LinkedUserID))
}

func (u *Upstream) ReportPendingVerification(ctx context.Context, link domain.Link) error {
	name := u.displayName(ctx, link.UserID)
	return u.notice(ctx, link.ChatID, fmt.Sprintf("%s: You should prove it's you! Write '%s' without quotes in %s!",
		name, u.phrase, link.AdapterKind))
}

func (u *Upstream) ReportVerified(ctx context.Context, link domain.Link) error {
	name := u.displayName(ctx, link.UserID)
	return u.notice(ctx, link.ChatID, fmt.Sprintf("%s: Link to %s created!", name, link.LinkedUserID))
}

func (u *Upstream) notice(ctx context.Context, roomID, text string) error {
	eventID, err := u.send(ctx, roomID, messageContent{MsgType: msgTypeNotice, Body: text})
	if err != nil {
		return fmt.Errorf("post notice to %s: %w", roomID, err)
	}
	u.logger.Info("notice posted", "room_id", roomID, "event_id", eventID)
	return nil
}

func (u *Upstream) send(ctx context.Context, roomID string, content messageContent) (string, error) {
	path := fmt.Sprintf("%s/rooms/%s/send/%s/%s",
		clientAPI,
		url.PathEscape(roomID),
		eventTypeMessage,
		uuid.NewString(),
	)

	var resp sendResponse
	if err := u.authed(ctx, http.MethodPut, path, content, nil, &resp); err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// displayName falls back to the user id when the profile has no name or
// cannot be fetched.
func (u *Upstream) displayName(ctx context.Context, userID string) string {
	var resp displayNameResponse
	path := clientAPI + "/profile/" + url.PathEscape(userID) + "/displayname"
	if err := u.authed(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		u.logger.Debug("display name lookup failed", "user_id", userID, "error", err)
		return userID
	}
	if resp.DisplayName == "" {
		return userID
	}
	return resp.DisplayName
}

func (u *Upstream) token() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.accessToken
}

func (u *Upstream) self() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.userID
}

// dropToken clears the token only if it is still the one that was rejected.
func (u *Upstream) dropToken(rejected string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.accessToken == rejected {
		u.accessToken = ""
	}
}
