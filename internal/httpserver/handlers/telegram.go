package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/MrSnakeDoc/pinbook/internal/httpserver/deps"
	"github.com/MrSnakeDoc/pinbook/internal/linking"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/telegram"
)

// SecretHeader is set by Telegram on every webhook call when a secret was
// registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookPath is where Telegram delivers updates.
const WebhookPath = "/api/telegram/webhook"

const qrSize = 256

type okResponse struct {
	OK bool `json:"ok"`
}

// Webhook receives Telegram updates. Once an update is accepted the answer
// is always 200 {"ok":true} so Telegram does not redeliver it.
func Webhook(d deps.Deps) http.HandlerFunc {
	timeout := d.WebhookTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if d.WebhookSecret != "" {
			got := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(d.WebhookSecret)) != 1 {
				d.Logger.Warn("webhook secret mismatch", logger.String("remote_ip", r.RemoteAddr))
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
		}

		var u telegram.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&u); err != nil {
			badRequest(w, "invalid update: "+err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		first, err := d.Linking.MarkUpdateSeen(ctx, u.UpdateID)
		switch {
		case err != nil:
			// better to risk a duplicate reply than to drop the message
			d.Logger.Warn("update dedup failed", logger.Int64("update_id", u.UpdateID), logger.Error(err))
		case !first:
			d.Logger.Debug("duplicate update ignored", logger.Int64("update_id", u.UpdateID))
			writeJSON(w, http.StatusOK, okResponse{OK: true})
			return
		}

		if err := d.Bridge.Handle(ctx, u); err != nil {
			d.Logger.Warn("update processing failed", logger.Int64("update_id", u.UpdateID), logger.Error(err))
		}
		writeJSON(w, http.StatusOK, okResponse{OK: true})
	}
}

type tokenRequest struct {
	APIToken string `json:"apiToken"`
}

// readToken decodes {apiToken} and applies the user:TOKEN sanity check.
func readToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req tokenRequest
	if !decodeBody(w, r, &req) {
		return "", false
	}
	token := strings.TrimSpace(req.APIToken)
	if !strings.Contains(token, ":") {
		badRequest(w, "apiToken must look like user:TOKEN")
		return "", false
	}
	return token, true
}

type linkResponse struct {
	Code        string `json:"code"`
	BotUsername string `json:"botUsername"`
	DeepLink    string `json:"deepLink"`
	QRCode      string `json:"qrCode,omitempty"` // data URL of a PNG
	ExpiresIn   int    `json:"expiresIn"`        // seconds
}

// Link issues a one-time linking code for the credential.
func Link(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := readToken(w, r)
		if !ok {
			return
		}

		code, err := d.Linking.IssueCode(r.Context(), token)
		if err != nil {
			writeError(w, d, fmt.Errorf("issue linking code: %w", err))
			return
		}

		resp := linkResponse{
			Code:        code,
			BotUsername: d.BotUsername,
			DeepLink:    DeepLink(d.BotUsername, code),
			ExpiresIn:   int(linking.CodeTTL.Seconds()),
		}
		png, err := qrcode.Encode(resp.DeepLink, qrcode.Medium, qrSize)
		if err != nil {
			d.Logger.Warn("qr code generation failed", logger.Error(err))
		} else {
			resp.QRCode = "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DeepLink opens the bot chat with /start <code> prefilled.
func DeepLink(bot, code string) string {
	return "https://t.me/" + url.PathEscape(bot) + "?start=" + url.QueryEscape(code)
}

type statusResponse struct {
	Connected bool   `json:"connected"`
	ChatID    *int64 `json:"chatId,omitempty"`
}

// Status reports whether the credential is bound to a chat.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := readToken(w, r)
		if !ok {
			return
		}
		chatID, linked, err := d.Linking.LookupChatByCredential(r.Context(), token)
		if err != nil {
			writeError(w, d, err)
			return
		}
		resp := statusResponse{Connected: linked}
		if linked {
			resp.ChatID = &chatID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type disconnectResponse struct {
	Disconnected bool `json:"disconnected"`
}

// Disconnect removes the chat binding of the credential.
func Disconnect(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := readToken(w, r)
		if !ok {
			return
		}
		ctx := r.Context()

		if chatID, linked, err := d.Linking.LookupChatByCredential(ctx, token); err == nil && linked {
			if err := d.Linking.ClearPending(ctx, chatID); err != nil {
				d.Logger.Debug("failed to clear pending bookmark", logger.Error(err))
			}
		}
		was, err := d.Linking.Unlink(ctx, token)
		if err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, disconnectResponse{Disconnected: was})
	}
}
