package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/geo"
	"github.com/sosnairobi/aidlink-server/internal/store"
)

func postJSON(t *testing.T, env *testEnv, path, bearer string, body, out any) int {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.ts.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, env *testEnv, path, bearer string, out any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	env := startTestServer(t)

	var out SubmitRequestResponse
	status := postJSON(t, env, "/api/v1/request/direct", "", SubmitRequestBody{
		Category: "Medical",
		Lat:      -1.2921,
		Lng:      36.8219,
		Content:  "need insulin",
	}, &out)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", status)
	}
	if out.RequestID == "" {
		t.Fatalf("expected a request ID")
	}

	status = postJSON(t, env, "/api/v1/request/direct", "", SubmitRequestBody{
		Category: "Plumbing",
		Lat:      -1.2921,
		Lng:      36.8219,
		Content:  "help",
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad category, got %d", status)
	}

	status = postJSON(t, env, "/api/v1/request/direct", "", map[string]any{"category": "Medical"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", status)
	}
}

func TestVerifyVolunteerRejectsUnknownCode(t *testing.T) {
	env := startTestServer(t)

	status := postJSON(t, env, "/api/v1/volunteer/verify", "", VerifyVolunteerBody{Code: "deadbeef"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestVolunteerStatusRequiresAuth(t *testing.T) {
	env := startTestServer(t)

	status := postJSON(t, env, "/api/v1/volunteer/status", "", SetAvailabilityBody{Availability: "offline"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}

	_, token := env.addVolunteer(t, geo.Point{Lat: -1.29, Lng: 36.82}, "Medical")
	status = postJSON(t, env, "/api/v1/volunteer/status", token, SetAvailabilityBody{Availability: "offline"}, nil)
	if status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}

	status = postJSON(t, env, "/api/v1/volunteer/status", token, SetAvailabilityBody{Availability: "sleeping"}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad availability, got %d", status)
	}
}

func TestAcceptConflictAndErrors(t *testing.T) {
	env := startTestServer(t)
	ctx := context.Background()
	loc := geo.Point{Lat: -1.29, Lng: 36.82}

	// Park a request with no volunteers around.
	req := &store.HelpRequest{
		ID:        uuid.NewString(),
		Category:  store.CategoryLegal,
		Location:  loc,
		Content:   "need legal aid",
		Source:    store.SourceDirectApp,
		Status:    store.RequestStatusNew,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	_, token1 := env.addVolunteer(t, loc, "Legal")
	_, token2 := env.addVolunteer(t, loc, "Legal")

	var accept AcceptResponse
	status := postJSON(t, env, "/api/v1/request/"+req.ID+"/accept", token1, nil, &accept)
	if status != http.StatusOK {
		t.Fatalf("expected 200 for first accept, got %d", status)
	}
	if accept.Token == "" || accept.RoomID == "" {
		t.Fatalf("accept response incomplete: %+v", accept)
	}

	status = postJSON(t, env, "/api/v1/request/"+req.ID+"/accept", token2, nil, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for second accept, got %d", status)
	}

	status = postJSON(t, env, "/api/v1/request/"+uuid.NewString()+"/accept", token2, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request, got %d", status)
	}

	status = postJSON(t, env, "/api/v1/request/"+req.ID+"/accept", "", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
}

func TestMapHotspotsShowsObfuscatedActiveRequests(t *testing.T) {
	env := startTestServer(t)

	var created SubmitRequestResponse
	status := postJSON(t, env, "/api/v1/request/direct", "", SubmitRequestBody{
		Category: "Shelter",
		Lat:      -1.3000,
		Lng:      36.8000,
		Content:  "family needs shelter",
	}, &created)
	if status != http.StatusAccepted {
		t.Fatalf("submit failed with %d", status)
	}

	var out struct {
		Hotspots []Hotspot `json:"hotspots"`
	}
	if status := getJSON(t, env, "/api/v1/map/hotspots", "", &out); status != http.StatusOK {
		t.Fatalf("hotspots failed with %d", status)
	}
	if len(out.Hotspots) != 1 {
		t.Fatalf("expected 1 hotspot, got %d", len(out.Hotspots))
	}
	h := out.Hotspots[0]
	if h.RequestID != created.RequestID {
		t.Errorf("unexpected hotspot %+v", h)
	}
	if h.Lat == -1.3000 && h.Lng == 36.8000 {
		t.Errorf("hotspot must not expose the raw coordinates")
	}
	// No volunteers exist, so the request lands in review and stays visible.
	deadline := time.After(2 * time.Second)
	for {
		if status := getJSON(t, env, "/api/v1/map/hotspots", "", &out); status != http.StatusOK {
			t.Fatalf("hotspots failed with %d", status)
		}
		if len(out.Hotspots) == 1 && out.Hotspots[0].Status == string(store.RequestStatusPendingReview) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("request never reached pending_review on the map: %+v", out.Hotspots)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPartnerEndpoints(t *testing.T) {
	env := startTestServer(t)
	ctx := context.Background()

	hash, err := auth.HashPassword("op-password")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	op := &store.Operator{
		ID:           uuid.NewString(),
		Email:        "ops@partner.example",
		FullName:     "Ops Person",
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := env.store.CreateOperator(ctx, op); err != nil {
		t.Fatalf("create operator: %v", err)
	}

	status := postJSON(t, env, "/api/v1/partner/login", "", PartnerLoginBody{
		Email: "ops@partner.example", Password: "wrong",
	}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", status)
	}

	var login PartnerLoginResponse
	status = postJSON(t, env, "/api/v1/partner/login", "", PartnerLoginBody{
		Email: "ops@partner.example", Password: "op-password",
	}, &login)
	if status != http.StatusOK {
		t.Fatalf("login failed with %d", status)
	}

	var registered RegisterVolunteerResponse
	status = postJSON(t, env, "/api/v1/partner/volunteers", login.Token, RegisterVolunteerBody{
		Name:   "New Volunteer",
		Phone:  "+254700000009",
		Skills: []string{"Medical"},
	}, &registered)
	if status != http.StatusCreated {
		t.Fatalf("register volunteer failed with %d", status)
	}
	if registered.VerificationCode == "" {
		t.Fatalf("expected a one-time verification code")
	}

	// A volunteer JWT must not open partner endpoints.
	_, volToken := env.addVolunteer(t, geo.Point{Lat: -1.29, Lng: 36.82}, "Medical")
	status = getJSON(t, env, "/api/v1/partner/requests/pending", volToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("expected 403 for volunteer on partner route, got %d", status)
	}

	// Park a request, then read the review queue as the operator.
	req := &store.HelpRequest{
		ID:        uuid.NewString(),
		Category:  store.CategoryShelter,
		Location:  geo.Point{Lat: -1.30, Lng: 36.80},
		Content:   "roof gone",
		Source:    store.SourceFeed,
		Status:    store.RequestStatusNew,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := env.store.MarkRequestPendingReview(ctx, req.ID); err != nil {
		t.Fatalf("park request: %v", err)
	}

	var pending struct {
		Requests []PendingRequest `json:"requests"`
	}
	status = getJSON(t, env, "/api/v1/partner/requests/pending", login.Token, &pending)
	if status != http.StatusOK {
		t.Fatalf("pending list failed with %d", status)
	}
	if len(pending.Requests) != 1 || pending.Requests[0].RequestID != req.ID {
		t.Fatalf("unexpected pending queue %+v", pending.Requests)
	}
}
