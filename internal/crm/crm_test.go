package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/pkg/logging"
)

func TestAddContact(t *testing.T) {
	tokenRequests := 0
	var contacts []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/access_token":
			tokenRequests++
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": fmt.Sprintf("tok-%d", tokenRequests),
				"expires_in":   3600,
			})
		case "/addressbooks/525659/emails":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			var payload map[string]interface{}
			json.NewDecoder(r.Body).Decode(&payload)
			contacts = append(contacts, payload)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:      srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		ListID:       525659,
		Logger:       logging.NewLogger(),
	})
	require.True(t, c.Enabled())

	ctx := context.Background()
	require.NoError(t, c.AddContact(ctx, "966500000001", "أحمد", "حافز"))
	require.NoError(t, c.AddContact(ctx, "966500000002", "سارة", "قياس"))

	assert.Equal(t, 1, tokenRequests, "token should be cached across calls")
	require.Len(t, contacts, 2)

	emails := contacts[0]["emails"].([]interface{})
	first := emails[0].(map[string]interface{})
	assert.Equal(t, "966500000001@whatsapp.bot", first["email"])
	vars := first["variables"].(map[string]interface{})
	assert.Equal(t, "حافز", vars["service"])
	assert.Equal(t, "966500000001", vars["phone"])
}

func TestAddContactErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/access_token" {
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "expires_in": 3600})
			return
		}
		http.Error(w, "bad book", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", ListID: 1, Logger: logging.NewLogger()})
	err := c.AddContact(context.Background(), "966500000001", "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "bad", ListID: 1, Logger: logging.NewLogger()})
	err := c.AddContact(context.Background(), "966500000001", "x", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestDisabledWithoutCredentials(t *testing.T) {
	c := NewClient(Config{Logger: logging.NewLogger()})
	assert.False(t, c.Enabled())
}

func TestSyntheticEmail(t *testing.T) {
	assert.Equal(t, "966500000001@whatsapp.bot", SyntheticEmail("966500000001"))
}
