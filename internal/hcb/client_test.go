package hcb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hackatlas/atlas/internal/database"
	"github.com/hackatlas/atlas/internal/model"
	"github.com/hackatlas/atlas/internal/store"
)

// setupClient builds a Client backed by an in-memory store and a fake HCB
// server, returning the id of a user holding the given token triple.
func setupClient(t *testing.T, handler http.Handler, td model.TokenData) (*Client, *store.UserStore, int64) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	u, err := users.FindOrCreate("usr_1", nil, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if td.AccessToken != "" {
		if err := users.UpdateTokens(u.ID, td); err != nil {
			t.Fatalf("seed tokens: %v", err)
		}
	}

	oauth := NewOAuthClient(testConfig(server.URL), nil)
	return NewClient(oauth, users, nil), users, u.ID
}

func freshToken() model.TokenData {
	return model.TokenData{
		AccessToken:  "T1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
}

func staleToken() model.TokenData {
	return model.TokenData{
		AccessToken:  "T1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(4 * time.Minute),
	}
}

func TestDoAttachesBearer(t *testing.T) {
	var gotAuth, gotContentType string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	})

	c, _, userID := setupClient(t, handler, freshToken())
	_, td, err := c.Do(context.Background(), userID, http.MethodGet, "/user", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	if gotAuth != "Bearer T1" {
		t.Errorf("authorization = %q, want Bearer T1", gotAuth)
	}
	if gotContentType != "" {
		t.Errorf("content-type = %q, want empty for body-less request", gotContentType)
	}
	if td == nil || td.AccessToken != "T1" {
		t.Errorf("returned token data = %+v", td)
	}
}

func TestDoSetsJSONContentTypeWithBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]any
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	})

	c, _, userID := setupClient(t, handler, freshToken())
	_, _, err := c.Do(context.Background(), userID, http.MethodPost, "/organizations/org_1/donations", map[string]any{"amount_cents": 500})
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("content-type = %q, want application/json", gotContentType)
	}
	if gotBody["amount_cents"] != float64(500) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestNoRefreshWhenTokenFresh(t *testing.T) {
	refreshed := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			refreshed = true
		}
		w.Write([]byte(`{}`))
	})

	c, _, userID := setupClient(t, handler, freshToken())
	if _, _, err := c.Do(context.Background(), userID, http.MethodGet, "/user", nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if refreshed {
		t.Error("token expiring in 10 minutes must not be refreshed")
	}
}

func TestRefreshWhenNearExpiry(t *testing.T) {
	refreshed := false
	var usedToken string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			refreshed = true
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "T2",
				"refresh_token": "R2",
				"expires_in":    3600,
			})
			return
		}
		usedToken = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	})

	c, users, userID := setupClient(t, handler, staleToken())
	_, td, err := c.Do(context.Background(), userID, http.MethodGet, "/user", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}

	if !refreshed {
		t.Fatal("token expiring in 4 minutes must be refreshed")
	}
	if usedToken != "Bearer T2" {
		t.Errorf("api call used %q, want the refreshed token", usedToken)
	}
	if td.AccessToken != "T2" {
		t.Errorf("returned token = %q, want T2", td.AccessToken)
	}

	// The refreshed triple must be in the store before use.
	stored, err := users.TokenData(userID)
	if err != nil {
		t.Fatalf("stored tokens: %v", err)
	}
	if stored.AccessToken != "T2" || stored.RefreshToken != "R2" {
		t.Errorf("stored = %q/%q, want T2/R2", stored.AccessToken, stored.RefreshToken)
	}
}

func TestRefreshFatalSurfacesReauth(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		t.Error("api must not be called after a fatal refresh")
	})

	c, _, userID := setupClient(t, handler, staleToken())
	_, _, err := c.Do(context.Background(), userID, http.MethodGet, "/user", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsReauthRequired(err) {
		t.Errorf("expected re-auth required, got %v", err)
	}
}

func TestNotAuthenticated(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("api must not be called without tokens")
	})

	c, _, userID := setupClient(t, handler, model.TokenData{})
	_, _, err := c.Do(context.Background(), userID, http.MethodGet, "/user", nil)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestNonOKCapturesBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"insufficient_permissions"}`, http.StatusForbidden)
	})

	c, _, userID := setupClient(t, handler, freshToken())
	_, _, err := c.Do(context.Background(), userID, http.MethodGet, "/organizations/org_1", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", apiErr.Status)
	}
	if !strings.Contains(apiErr.Body, "insufficient_permissions") {
		t.Errorf("body = %q, want upstream body preserved", apiErr.Body)
	}
}

func TestNoContentReturnsNilData(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c, _, userID := setupClient(t, handler, freshToken())
	data, td, err := c.Do(context.Background(), userID, http.MethodDelete, "/cards/crd_1", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if data != nil {
		t.Errorf("data = %q, want nil for 204", data)
	}
	if td == nil {
		t.Error("token data must still be returned")
	}
}

func TestMalformedJSON(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway error</html>`))
	})

	c, _, userID := setupClient(t, handler, freshToken())
	_, _, err := c.Do(context.Background(), userID, http.MethodGet, "/user", nil)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestAbsoluteURLPassthrough(t *testing.T) {
	hit := false
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.Write([]byte(`{}`))
	}))
	defer other.Close()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("api base must not be used for absolute urls")
	})

	c, _, userID := setupClient(t, handler, freshToken())
	if _, _, err := c.Do(context.Background(), userID, http.MethodGet, other.URL+"/file", nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !hit {
		t.Error("absolute url was not requested as-is")
	}
}

func TestDoMultipart(t *testing.T) {
	var gotContentType string
	var gotFile string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		buf := make([]byte, 32)
		n, _ := file.Read(buf)
		gotFile = header.Filename + ":" + string(buf[:n])
		json.NewEncoder(w).Encode(map[string]string{"id": "rct_1", "url": "https://x/r.png", "uploaded_at": "now"})
	})

	c, _, userID := setupClient(t, handler, freshToken())
	receipt, _, err := c.AttachReceipt(context.Background(), userID, "txn_1", "receipt.png", strings.NewReader("fake-png"))
	if err != nil {
		t.Fatalf("attach receipt: %v", err)
	}

	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("content-type = %q, want multipart/form-data", gotContentType)
	}
	if gotFile != "receipt.png:fake-png" {
		t.Errorf("uploaded = %q", gotFile)
	}
	if receipt.ID != "rct_1" {
		t.Errorf("receipt id = %q", receipt.ID)
	}
}

func TestTypedWrapperDecodes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/organizations/org_1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":                    "org_1",
			"name":                  "Hack Club",
			"slug":                  "hack-club",
			"balance_cents":         123400,
			"pending_balance_cents": 500,
		})
	})

	c, _, userID := setupClient(t, handler, freshToken())
	org, _, err := c.Organization(context.Background(), userID, "org_1")
	if err != nil {
		t.Fatalf("organization: %v", err)
	}
	if org.Name != "Hack Club" || org.BalanceCents != 123400 {
		t.Errorf("org = %+v", org)
	}
}

func TestOrganizationTransactionsQuery(t *testing.T) {
	var gotQuery string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{"transactions": []any{}, "has_more": false, "total_count": 0})
	})

	c, _, userID := setupClient(t, handler, freshToken())
	if _, _, err := c.OrganizationTransactions(context.Background(), userID, "org_1", "25", "", ""); err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if gotQuery != "limit=25" {
		t.Errorf("query = %q, want empty params dropped", gotQuery)
	}
}
