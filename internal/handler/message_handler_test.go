package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-chat-api/internal/dto"
	"github.com/noah-isme/gema-chat-api/internal/handler"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
)

func newMessageApp(messages *stubMessageService, unread *stubUnreadService, limiter fiber.Handler) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/messages", withUser("u-1"))
	handler.NewMessageHandler(messages, unread, limiter, zerolog.Nop()).Register(group)
	return app
}

func TestMessageHandler_HistoryPassesCursor(t *testing.T) {
	messages := &stubMessageService{
		page: []dto.MessageResponse{{ID: "m-1", Content: "hi"}},
		meta: dto.MessagePageMeta{Count: 1, NextBefore: "m-1"},
	}
	app := newMessageApp(messages, &stubUnreadService{}, nil)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/messages?chat_id=c-1&before=m-9&limit=25", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, dto.MessageHistoryQuery{ChatID: "c-1", Before: "m-9", Limit: 25}, messages.lastQuery)

	var meta dto.MessagePageMeta
	require.NoError(t, json.Unmarshal(body.Meta, &meta))
	require.Equal(t, "m-1", meta.NextBefore)

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/messages?chat_id=c-1&limit=many", "")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid limit", body.Message)
}

func TestMessageHandler_SendAndDelete(t *testing.T) {
	messages := &stubMessageService{message: dto.MessageResponse{ID: "m-1", Content: "hello"}}
	app := newMessageApp(messages, &stubUnreadService{}, nil)

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/messages", `{"chat_id":"c-1","content":"hello","reply_to_id":"m-0"}`)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "c-1", messages.lastSend.ChatID)
	require.NotNil(t, messages.lastSend.ReplyToID)
	require.Equal(t, "m-0", *messages.lastSend.ReplyToID)

	var sent dto.MessageResponse
	require.NoError(t, json.Unmarshal(body.Data, &sent))
	require.Equal(t, "hello", sent.Content)

	resp, _ = doRequest(t, app, http.MethodDelete, "/api/v1/messages/m-1", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "m-1", messages.deleted)
}

func TestMessageHandler_UnreadSummaryIsNotAMessageID(t *testing.T) {
	unread := &stubUnreadService{summary: dto.UnreadSummaryResponse{Total: 4, Chats: []dto.ChatUnreadResponse{{ChatID: "c-1", Unread: 4}}}}
	app := newMessageApp(&stubMessageService{}, unread, nil)

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/messages/unread", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var summary dto.UnreadSummaryResponse
	require.NoError(t, json.Unmarshal(body.Data, &summary))
	require.Equal(t, unread.summary, summary)
}

func TestMessageHandler_SendIsRateLimited(t *testing.T) {
	app := newMessageApp(&stubMessageService{}, &stubUnreadService{}, middleware.RateLimit("messages", 1, time.Minute))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{"chat_id":"c-1","content":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, fiber.StatusCreated, send())
	require.Equal(t, fiber.StatusTooManyRequests, send())

	resp, _ := doRequest(t, app, http.MethodGet, "/api/v1/messages?chat_id=c-1", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode, "reads are not limited")
}
