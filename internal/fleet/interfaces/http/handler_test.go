package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"greenhouse-cloud/internal/auth"
	fleet "greenhouse-cloud/internal/fleet/domain"
)

type stubLister struct {
	list []fleet.Greenhouse
	err  error
}

func (s stubLister) List(context.Context) ([]fleet.Greenhouse, error) {
	return s.list, s.err
}

var sample = []fleet.Greenhouse{
	{ID: 1, Name: "north", Zones: []fleet.Zone{{ID: 7, GreenhouseID: 1, Name: "a"}, {ID: 8, GreenhouseID: 1, Name: "b"}}},
	{ID: 2, Name: "south", Zones: []fleet.Zone{{ID: 9, GreenhouseID: 2, Name: "c"}}},
}

func get(t *testing.T, h http.Handler, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/greenhouses", nil)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *identity))
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) ListResponse {
	t.Helper()
	var body ListResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestGreenhouseHandlerScopesZones(t *testing.T) {
	h, err := NewGreenhouseHandler(stubLister{list: sample}, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	resp := get(t, h, &auth.Identity{Subject: "u", Role: auth.RoleViewer, Zones: []int64{9}})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := decode(t, resp)
	if len(body.Greenhouses) != 1 || body.Greenhouses[0].ID != 2 {
		t.Fatalf("unexpected list %+v", body.Greenhouses)
	}

	resp = get(t, h, &auth.Identity{Subject: "root", Role: auth.RoleAdmin})
	if body := decode(t, resp); len(body.Greenhouses) != 2 {
		t.Fatalf("admin should see everything, got %+v", body.Greenhouses)
	}
}

func TestGreenhouseHandlerEmptyListIsArray(t *testing.T) {
	h, _ := NewGreenhouseHandler(stubLister{}, nil)
	resp := get(t, h, &auth.Identity{Subject: "u", Role: auth.RoleViewer})
	if got := resp.Body.String(); got != "{\"greenhouses\":[]}\n" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestGreenhouseHandlerErrors(t *testing.T) {
	h, _ := NewGreenhouseHandler(stubLister{err: errors.New("db down")}, nil)
	if resp := get(t, h, nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp := get(t, h, &auth.Identity{Subject: "u", Role: auth.RoleViewer}); resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/greenhouses", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}

	if _, err := NewGreenhouseHandler(nil, nil); err == nil {
		t.Fatalf("expected nil lister error")
	}
}
