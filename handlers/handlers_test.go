package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rithikrice/bondMatchPlus/core/engine"
	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/models"
	"github.com/rithikrice/bondMatchPlus/services"
)

const testSecret = "handler-secret"

type apiClient struct {
	t   *testing.T
	app *fiber.App
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	e := engine.New(ledger.NewMemoryStore())
	services.GlobalAuctionService = services.NewAuctionService(e, engine.NewScheduler(e, nil, "@every 1h"), nil)
	services.GlobalParticipantService = services.NewParticipantService(services.NewMemoryParticipants(), testSecret, time.Hour, nil)

	app := fiber.New()
	SetupRoutes(app, testSecret)
	return &apiClient{t: t, app: app}
}

func (a *apiClient) do(method, path, token string, body any) (int, []byte) {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.app.Test(req, 5000)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp.StatusCode, out
}

func (a *apiClient) doJSON(method, path, token string, body any) (int, map[string]any) {
	a.t.Helper()
	status, raw := a.do(method, path, token, body)
	var m map[string]any
	require.NoError(a.t, json.Unmarshal(raw, &m), string(raw))
	return status, m
}

func token(t *testing.T, id, role string) string {
	t.Helper()
	tok, err := services.GlobalParticipantService.IssueToken(models.Participant{ID: id, Role: role})
	require.NoError(t, err)
	return tok
}

func auctionBody() fiber.Map {
	now := time.Now().UTC()
	return fiber.Map{
		"instrument_id": "IN0020230085",
		"notional":      100,
		"min_size":      1,
		"tick_size":     "0.25",
		"starts_at":     now.Add(time.Hour).Format(time.RFC3339Nano),
		"ends_at":       now.Add(2 * time.Hour).Format(time.RFC3339Nano),
	}
}

func TestRegisterAndLoginRoutes(t *testing.T) {
	api := newAPI(t)

	status, _ := api.doJSON("POST", "/api/auth/register", "", fiber.Map{"username": "alice", "fullName": "Alice", "password": "hunter22"})
	assert.Equal(t, fiber.StatusCreated, status)

	status, _ = api.doJSON("POST", "/api/auth/register", "", fiber.Map{"username": "alice", "fullName": "Alice", "password": "hunter22"})
	assert.Equal(t, fiber.StatusConflict, status)

	status, body := api.doJSON("POST", "/api/auth/login", "", fiber.Map{"username": "alice", "password": "hunter22"})
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, body["token"])

	status, _ = api.doJSON("POST", "/api/auth/login", "", fiber.Map{"username": "alice", "password": "nope-nope"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t)
	admin := token(t, "ops", models.RoleAdmin)
	alice := token(t, "alice", models.RoleParticipant)
	bob := token(t, "bob", models.RoleParticipant)
	carol := token(t, "carol", models.RoleParticipant)

	status, _ := api.doJSON("POST", "/api/auctions", alice, auctionBody())
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body := api.doJSON("POST", "/api/auctions", admin, auctionBody())
	require.Equal(t, fiber.StatusCreated, status, body)
	id := body["id"].(string)
	base := "/api/auctions/" + id

	// not live yet
	status, body = api.doJSON("POST", base+"/quotes", alice, fiber.Map{"side": "BUY", "quantity": 60, "price": "102"})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, engine.ReasonAuctionNotLive, body["reason"])

	status, body = api.doJSON("POST", "/api/admin/auctions/"+id+"/transition", admin, fiber.Map{"target": "LIVE"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["changed"])

	status, body = api.doJSON("POST", "/api/admin/auctions/"+id+"/transition", admin, fiber.Map{"target": "LIVE"})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["changed"])

	status, body = api.doJSON("POST", base+"/quotes", alice, fiber.Map{"side": "BUY", "quantity": 60, "price": "102"})
	require.Equal(t, fiber.StatusCreated, status, body)
	status, body = api.doJSON("POST", base+"/quotes", bob, fiber.Map{"side": "buy", "quantity": 50, "price": "101"})
	require.Equal(t, fiber.StatusCreated, status, body)
	bobQuote := body["id"].(string)
	status, body = api.doJSON("POST", base+"/quotes", carol, fiber.Map{"side": "SELL", "quantity": 80, "price": "100"})
	require.Equal(t, fiber.StatusCreated, status, body)

	status, body = api.doJSON("POST", base+"/quotes", carol, fiber.Map{"side": "HOLD", "quantity": 80, "price": "100"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, engine.ReasonInvalidSide, body["reason"])

	status, body = api.doJSON("POST", base+"/quotes", carol, fiber.Map{"side": "SELL", "quantity": 80, "price": "100.10"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, engine.ReasonInvalidPrice, body["reason"])

	status, body = api.doJSON("DELETE", "/api/quotes/"+bobQuote, alice, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, engine.ReasonNotOwner, body["reason"])

	status, raw := api.do("GET", base+"/quotes?participant=bob", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	var mine []models.QuoteRequest
	require.NoError(t, json.Unmarshal(raw, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "alice", mine[0].ParticipantID)

	status, body = api.doJSON("POST", "/api/admin/auctions/"+id+"/transition", admin, fiber.Map{"target": "CLOSED"})
	require.Equal(t, fiber.StatusOK, status, body)

	status, raw = api.do("GET", base+"/clearing", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	var result models.ClearingResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, int64(80), result.MatchedQuantity)
	require.NotNil(t, result.Price)
	assert.Equal(t, "101", result.Price.String())

	status, body = api.doJSON("POST", "/api/admin/auctions/"+id+"/verify", admin, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, true, body["verification"].(map[string]any)["match"])

	status, _ = api.doJSON("DELETE", "/api/quotes/"+bobQuote, bob, nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status, _ = api.do("GET", base+"/events", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, raw = api.do("GET", base+"/events", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	var events []models.LedgerEvent
	require.NoError(t, json.Unmarshal(raw, &events))
	assert.Equal(t, models.EventAuditSealed, events[len(events)-1].Kind)
	admitted := map[string]bool{}
	for _, ev := range events {
		if ev.Kind == models.EventQuoteAdmitted {
			admitted[ev.Actor] = true
		}
	}
	assert.Equal(t, map[string]bool{"alice": true, "": true}, admitted)

	status, raw = api.do("GET", base+"/events", admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &events))
	admitted = map[string]bool{}
	for _, ev := range events {
		if ev.Kind == models.EventQuoteAdmitted {
			admitted[ev.Actor] = true
		}
	}
	assert.Equal(t, map[string]bool{"alice": true, "bob": true, "carol": true}, admitted)

	status, body = api.doJSON("GET", "/api/quotes/"+bobQuote, bob, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "bob", body["participant_id"])
	status, body = api.doJSON("GET", "/api/quotes/"+bobQuote, alice, nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, engine.ReasonNotFound, body["reason"])

	status, body = api.doJSON("GET", "/api/admin/stats", admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])
}

func TestReplaceQuoteRoute(t *testing.T) {
	api := newAPI(t)
	admin := token(t, "ops", models.RoleAdmin)
	alice := token(t, "alice", models.RoleParticipant)

	_, body := api.doJSON("POST", "/api/auctions", admin, auctionBody())
	id := body["id"].(string)
	_, _ = api.doJSON("POST", "/api/admin/auctions/"+id+"/transition", admin, fiber.Map{"target": "LIVE"})

	_, body = api.doJSON("POST", "/api/auctions/"+id+"/quotes", alice, fiber.Map{"side": "BUY", "quantity": 10, "price": "99.5"})
	old := body["id"].(string)

	status, body := api.doJSON("PUT", "/api/quotes/"+old, alice, fiber.Map{"quantity": 20})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.NotEqual(t, old, body["id"])

	q, err := services.GlobalAuctionService.Quotes(context.Background(), id, engine.QuoteFilter{}, engine.Actor{Admin: true})
	require.NoError(t, err)
	require.Len(t, q, 2)
	assert.Equal(t, models.QuoteCancelled, q[0].Status)
	assert.Equal(t, models.QuotePending, q[1].Status)
	assert.True(t, q[1].IsMarket())
}

func TestErrorMapping(t *testing.T) {
	api := newAPI(t)
	admin := token(t, "ops", models.RoleAdmin)

	status, _ := api.doJSON("GET", "/api/auctions/missing", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = api.doJSON("GET", "/api/auctions?status=OPEN", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	bad := auctionBody()
	bad["notional"] = 0
	status, body := api.doJSON("POST", "/api/auctions", admin, bad)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, engine.ReasonInvalidSpec, body["reason"])

	status, _ = api.doJSON("GET", "/api/auctions/x/quotes", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestParticipantAdminRoutes(t *testing.T) {
	api := newAPI(t)
	admin := token(t, "ops", models.RoleAdmin)

	p, err := services.GlobalParticipantService.Register(context.Background(), "dave", "Dave", "hunter22")
	require.NoError(t, err)

	status, raw := api.do("GET", "/api/admin/participants", admin, nil)
	require.Equal(t, fiber.StatusOK, status)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.NotContains(t, list[0], "password_hash")

	status, body := api.doJSON("PUT", "/api/admin/participants/role", admin, fiber.Map{"participantId": p.ID, "role": "admin"})
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, models.RoleAdmin, body["participant"].(map[string]any)["role"])

	status, _ = api.doJSON("PUT", "/api/admin/participants/role", admin, fiber.Map{"participantId": "ops", "role": "PARTICIPANT"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = api.doJSON("PUT", "/api/admin/participants/role", admin, fiber.Map{"participantId": "ghost", "role": "ADMIN"})
	assert.Equal(t, fiber.StatusNotFound, status)
}
