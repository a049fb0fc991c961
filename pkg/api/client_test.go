package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/park-link/pkg/types"
)

func recordFor(t *testing.T, ts *httptest.Server) types.ServerRecord {
	t.Helper()
	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("bad test server address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return types.ServerRecord{
		Endpoint: types.Endpoint{Host: host, Port: port, Transport: types.TransportPlaintext},
	}
}

func TestLogin_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/link/client/login" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct{ Username, Password string }
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username != "shepard" {
			http.Error(w, `{"reason":"bad request"}`, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"token":"abc123"}`))
	}))
	defer ts.Close()

	client := NewClient(recordFor(t, ts), false)
	token, err := client.Login(context.Background(), "shepard", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("token=%q want abc123", token)
	}
}

func TestLogin_RejectedWithReason(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"reason":"wrong password"}`, http.StatusUnauthorized)
	}))
	defer ts.Close()

	client := NewClient(recordFor(t, ts), false)
	_, err := client.Login(context.Background(), "shepard", "bad")
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("got %v want ErrAuthRejected", err)
	}
}

func TestCreateAccount_UsesCreatePath(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"token":"new"}`))
	}))
	defer ts.Close()

	client := NewClient(recordFor(t, ts), false)
	if _, err := client.CreateAccount(context.Background(), "u", "p"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotPath != "/link/client/create" {
		t.Fatalf("path=%q want /link/client/create", gotPath)
	}
}

func TestLogin_MissingTokenIsInvalid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(recordFor(t, ts), false)
	if _, err := client.Login(context.Background(), "u", "p"); err == nil {
		t.Fatal("expected error for response without token")
	}
}
