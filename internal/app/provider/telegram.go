package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultTelegramAPI     = "https://api.telegram.org"
	defaultTelegramTimeout = 10 * time.Second
	telegramMaxMemberLimit = 99999
)

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	BotToken string
	APIBase  string
	Timeout  time.Duration
}

// Telegram mints and revokes chat invite links through the Bot API.
type Telegram struct {
	token   string
	apiBase string
	timeout time.Duration
}

// NewTelegram returns a Bot API gateway.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultTelegramAPI
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTelegramTimeout
	}
	return &Telegram{token: cfg.BotToken, apiBase: apiBase, timeout: timeout}, nil
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type chatInviteLink struct {
	InviteLink string `json:"invite_link"`
}

func (t *Telegram) Mint(ctx context.Context, req MintRequest) (string, error) {
	limit := req.UsageBudget
	if limit <= 0 {
		limit = 1
	}
	if limit > telegramMaxMemberLimit {
		limit = telegramMaxMemberLimit
	}
	payload := fiber.Map{
		"chat_id":      req.ResourceID,
		"member_limit": limit,
	}
	if !req.ExpiresAt.IsZero() {
		payload["expire_date"] = req.ExpiresAt.Unix()
	}
	if req.Name != "" {
		payload["name"] = req.Name
	}

	result, err := t.call(ctx, "createChatInviteLink", payload)
	if err != nil {
		return "", err
	}
	var link chatInviteLink
	if err := json.Unmarshal(result, &link); err != nil {
		return "", Transient(fmt.Errorf("telegram: decode invite link: %w", err))
	}
	if link.InviteLink == "" {
		return "", Transient(errors.New("telegram: empty invite link"))
	}
	return link.InviteLink, nil
}

func (t *Telegram) Revoke(ctx context.Context, resourceID, token string) error {
	_, err := t.call(ctx, "revokeChatInviteLink", fiber.Map{
		"chat_id":     resourceID,
		"invite_link": token,
	})
	if errors.Is(err, ErrUnknownToken) {
		return nil
	}
	return err
}

func (t *Telegram) call(ctx context.Context, method string, payload fiber.Map) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient(err)
	}
	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	agent := fiber.Post(url).JSON(payload).Timeout(timeout)
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, Transient(fmt.Errorf("telegram %s: %w", method, errors.Join(errs...)))
	}

	var resp telegramResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= fiber.StatusInternalServerError || status == 0 {
			return nil, Transient(fmt.Errorf("telegram %s: status %d", method, status))
		}
		return nil, Permanent(fmt.Errorf("telegram %s: decode response: %w", method, err))
	}
	if resp.OK {
		return resp.Result, nil
	}
	return nil, classifyTelegramError(method, status, resp)
}

func classifyTelegramError(method string, status int, resp telegramResponse) error {
	code := resp.ErrorCode
	if code == 0 {
		code = status
	}
	err := fmt.Errorf("telegram %s: %d %s", method, code, resp.Description)

	switch {
	case code == fiber.StatusTooManyRequests:
		var retryAfter time.Duration
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return RateLimited(retryAfter, err)
	case code >= fiber.StatusInternalServerError:
		return Transient(err)
	case isUnknownInvite(resp.Description):
		return fmt.Errorf("%w: %v", ErrUnknownToken, err)
	default:
		return Permanent(err)
	}
}

func isUnknownInvite(description string) bool {
	d := strings.ToUpper(description)
	return strings.Contains(d, "INVITE_HASH_EXPIRED") ||
		strings.Contains(d, "INVITE_HASH_INVALID") ||
		strings.Contains(d, "INVITE LINK NOT FOUND")
}
