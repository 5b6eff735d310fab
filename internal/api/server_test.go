package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/dashd/internal/condition"
	"github.com/dokzlo13/dashd/internal/dashboard"
	"github.com/dokzlo13/dashd/internal/db"
	"github.com/dokzlo13/dashd/internal/entities"
	"github.com/dokzlo13/dashd/internal/ledger"
	"github.com/dokzlo13/dashd/internal/mediaquery"
)

const testDashboard = `
title: Test
views:
  - id: main
    children:
      - id: lamp
        entity: light.kitchen
        visibility:
          - condition: state
            state: "on"
      - id: desktop
        visibility:
          - condition: screen
            media_query: "(min-width: 1024px)"
      - id: admin
        visibility:
          - condition: user
            users: [admin]
`

type fixture struct {
	server *Server
	board  *dashboard.Board
	reg    *entities.Registry
}

func newFixture(t *testing.T, load bool, limiter bool) *fixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "api.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	reg := entities.New(nil, nil)
	l := ledger.New(database.DB)
	board := dashboard.NewBoard(dashboard.Options{
		Entities: reg,
		Env:      mediaquery.NewEnvironment(mediaquery.Viewport{Width: 1280, Height: 800}),
		Ledger:   l,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go board.Run(ctx)
	t.Cleanup(func() {
		board.Close()
		cancel()
	})

	if load {
		d, err := dashboard.Parse([]byte(testDashboard))
		require.NoError(t, err)
		require.NoError(t, board.Load(context.Background(), d))
	}

	deps := Deps{Board: board, Entities: reg, Ledger: l}
	if limiter {
		deps.Limiter = NewLimiter(0.001, 1)
	}
	return &fixture{
		server: NewServer("127.0.0.1", 0, deps),
		board:  board,
		reg:    reg,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t, false, false)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d, err := dashboard.Parse([]byte(testDashboard))
	require.NoError(t, err)
	require.NoError(t, f.board.Load(context.Background(), d))

	rec = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStates_PutGetDelete(t *testing.T) {
	f := newFixture(t, true, false)

	rec := f.do(t, http.MethodPut, "/api/states/light.kitchen", map[string]interface{}{
		"state":      "on",
		"attributes": map[string]interface{}{"brightness": 200},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]interface{}](t, rec)["changed"])

	// Visibility is settled before the response is written
	assert.True(t, f.board.Visible("lamp"))

	rec = f.do(t, http.MethodGet, "/api/states/light.kitchen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[entities.Entity](t, rec)
	assert.Equal(t, "on", got.State)
	assert.Equal(t, float64(200), got.Attributes["brightness"])

	rec = f.do(t, http.MethodGet, "/api/states", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entities.Entity](t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/api/states/light.kitchen", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.board.Visible("lamp"))

	rec = f.do(t, http.MethodDelete, "/api/states/light.kitchen", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/states/light.kitchen", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStates_PutRejectsBadInput(t *testing.T) {
	f := newFixture(t, true, false)

	rec := f.do(t, http.MethodPut, "/api/states/kitchen", map[string]string{"state": "on"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/states/light.kitchen", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/states/light.kitchen", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_Ingest(t *testing.T) {
	f := newFixture(t, true, false)

	rec := f.do(t, http.MethodPost, "/api/events", `[
		{"event_type":"state_changed","data":{"entity_id":"light.kitchen","new_state":{"state":"on"}}},
		{"event_type":"state_changed","data":{"entity_id":"sensor.temp","new_state":{"state":"21"}}}
	]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[entities.IngestResult](t, rec)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, []string{"light.kitchen", "sensor.temp"}, res.Changed)
	assert.True(t, f.board.Visible("lamp"))

	rec = f.do(t, http.MethodPost, "/api/events",
		`{"data":{"entity_id":"light.kitchen","new_state":{"state":null}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"light.kitchen"}, decode[entities.IngestResult](t, rec).Removed)
	assert.False(t, f.board.Visible("lamp"))

	rec = f.do(t, http.MethodPost, "/api/events", `{"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/events", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_RateLimited(t *testing.T) {
	f := newFixture(t, true, true)
	body := `{"data":{"entity_id":"light.kitchen","new_state":{"state":"on"}}}`

	rec := f.do(t, http.MethodPost, "/api/events", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/events", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other routes are not limited
	rec = f.do(t, http.MethodGet, "/api/states", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestViewport(t *testing.T) {
	f := newFixture(t, true, false)
	assert.True(t, f.board.Visible("desktop"))

	rec := f.do(t, http.MethodPut, "/api/viewport", map[string]interface{}{"width": 390, "height": 844})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode[map[string]interface{}](t, rec)["queries_changed"])
	assert.False(t, f.board.Visible("desktop"))

	rec = f.do(t, http.MethodGet, "/api/viewport", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]interface{}](t, rec)
	assert.Equal(t, float64(390), got["width"])
	assert.Equal(t, "portrait", got["orientation"])

	rec = f.do(t, http.MethodPut, "/api/viewport", map[string]interface{}{"width": 390, "color_scheme": "sepia"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUser(t *testing.T) {
	f := newFixture(t, true, false)

	rec := f.do(t, http.MethodPut, "/api/user", map[string]string{"user": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.board.Visible("admin"))

	rec = f.do(t, http.MethodGet, "/api/user", nil)
	assert.JSONEq(t, `{"user":"admin"}`, rec.Body.String())
}

func TestElements(t *testing.T) {
	f := newFixture(t, true, false)

	rec := f.do(t, http.MethodGet, "/api/elements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]dashboard.ElementStatus](t, rec), 4)

	rec = f.do(t, http.MethodGet, "/api/elements?visible=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	for _, e := range decode[[]dashboard.ElementStatus](t, rec) {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"main", "desktop"}, ids)

	rec = f.do(t, http.MethodGet, "/api/elements/lamp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lamp := decode[dashboard.ElementStatus](t, rec)
	assert.Equal(t, "main", lamp.Parent)
	assert.Equal(t, []string{"light.kitchen"}, lamp.Entities)

	rec = f.do(t, http.MethodGet, "/api/elements/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestElementHistory(t *testing.T) {
	f := newFixture(t, true, false)
	f.do(t, http.MethodPut, "/api/states/light.kitchen", map[string]string{"state": "on"})

	rec := f.do(t, http.MethodGet, "/api/elements/lamp/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]ledger.Entry](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, dashboard.ReasonState, entries[0].Reason)
	assert.Equal(t, dashboard.ReasonMount, entries[1].Reason)

	rec = f.do(t, http.MethodGet, "/api/elements/lamp/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ledger.Entry](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/elements/lamp/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConditionsEvaluate(t *testing.T) {
	f := newFixture(t, false, false)
	_, err := f.reg.Set("sensor.temp", condition.EntityState{State: "23.5"})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/conditions/evaluate", `{
		"entity": "sensor.temp",
		"conditions": [
			{"condition": "numeric_state", "above": 20, "below": 25},
			{"condition": "time", "after": "00:00", "before": "00:00"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[evaluateResponse](t, rec)
	assert.False(t, resp.Valid, "after equal to before is reported")
	assert.Equal(t, []string{"sensor.temp"}, resp.Entities)
	assert.Equal(t, 1, resp.TimeConditions)

	rec = f.do(t, http.MethodPost, "/api/conditions/evaluate", `{
		"conditions": {"condition": "numeric_state", "entity": "sensor.temp", "above": 20}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[evaluateResponse](t, rec)
	assert.True(t, resp.Result)
	assert.True(t, resp.Valid)
	assert.Empty(t, resp.Problems)
	assert.Nil(t, resp.NextUpdate)

	rec = f.do(t, http.MethodPost, "/api/conditions/evaluate", `{
		"conditions": [{"condition": "time", "after": "00:00", "before": "23:59"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[evaluateResponse](t, rec)
	require.NotNil(t, resp.NextUpdate)
	assert.LessOrEqual(t, *resp.NextUpdate, (24 * time.Hour).Seconds())

	rec = f.do(t, http.MethodPost, "/api/conditions/evaluate", `{"entity": "bad", "conditions": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConditionsValidate(t *testing.T) {
	f := newFixture(t, false, false)

	rec := f.do(t, http.MethodPost, "/api/conditions/validate", `{
		"conditions": [
			{"condition": "state", "entity": "light.kitchen", "state": "on"},
			{"condition": "screen", "media_query": "(min-width: huge)"},
			{"condition": "or"}
		]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[validateResponse](t, rec)
	assert.False(t, resp.Valid)
	require.Len(t, resp.Problems, 2)
	assert.Equal(t, "[2]", resp.Problems[0].Path)

	rec = f.do(t, http.MethodPost, "/api/conditions/validate", `{"conditions": []}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true,"problems":[]}`, rec.Body.String())
}
