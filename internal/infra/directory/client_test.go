package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/config"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(config.DirectorySettings{
		BaseURL: server.URL,
		Token:   "test-token",
		Timeout: 2 * time.Second,
	}, zaptest.NewLogger(t))
	return client, server
}

func TestCreatePrincipalReturnsExternalID(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/principals" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"external_id": "ext-42"})
	}))

	externalID, err := client.CreatePrincipal(context.Background(), port.DirectoryPrincipal{
		Username: "traveler",
		Email:    "traveler@example.com",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("CreatePrincipal returned error: %v", err)
	}
	if externalID != "ext-42" {
		t.Fatalf("unexpected external id: %s", externalID)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("unexpected authorization header: %s", gotAuth)
	}
	if gotBody["email"] != "traveler@example.com" {
		t.Fatalf("unexpected request email: %v", gotBody["email"])
	}
}

func TestGetPrincipalMapsNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetPrincipal(context.Background(), "ext-missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletePrincipalTreatsNotFoundAsSuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := client.DeletePrincipal(context.Background(), "ext-gone"); err != nil {
		t.Fatalf("DeletePrincipal returned error for missing principal: %v", err)
	}
}

func TestAssignRoleSurfacesServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
	}))

	err := client.AssignRole(context.Background(), "ext-1", "booking:agent")
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestUpdatePrincipalRequiresExternalID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	err := client.UpdatePrincipal(context.Background(), port.DirectoryPrincipal{Username: "traveler"})
	if err == nil {
		t.Fatal("expected error for missing external id")
	}
}

func TestRemoveRoleUsesEscapedPath(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.RemoveRole(context.Background(), "ext-1", "booking/agent"); err != nil {
		t.Fatalf("RemoveRole returned error: %v", err)
	}
	if gotPath != "/v1/principals/ext-1/roles/booking%2Fagent" {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
}
