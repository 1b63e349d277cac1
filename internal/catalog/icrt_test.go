package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbafbrt/Billedhenter/internal/apperr"
)

// icrtStub mimics the ICRT API: POST /auth returns a raw token body, POST
// /graphql answers the media query for one known project.
type icrtStub struct {
	authCalls  atomic.Int32
	rejectAuth bool
	expireOnce atomic.Bool
}

func (s *icrtStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		s.authCalls.Add(1)
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if s.rejectAuth || creds["client_id"] == "" {
			w.Write([]byte("Authentication Failed"))
			return
		}
		w.Write([]byte("jwt-token-" + creds["client_id"]))
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if s.expireOnce.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			Variables map[string]string `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Variables["icrtcode"] != "AB10000" {
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"project": nil}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"project": map[string]any{
					"name": "Test project",
					"media": []map[string]string{
						{"filename": "AB10000-0001-00_01.jpg", "image": "https://media.example/1"},
						{"filename": "", "image": "https://media.example/2"},
						{"filename": "AB10000-0001-00_02.jpg", "image": ""},
						{"filename": "AB10000-0002-00_01.jpg", "image": "https://media.example/3"},
					},
				},
			},
		})
	})
	return mux
}

func stubServer(t *testing.T, s *icrtStub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestProjectMedia_LazyAuthAndFiltering(t *testing.T) {
	stub := &icrtStub{}
	srv := stubServer(t, stub)
	c := NewICRT(srv.URL, "id", "key", time.Second)

	entries, err := c.ProjectMedia(context.Background(), "AB10000")
	if err != nil {
		t.Fatal(err)
	}
	// Entries missing a filename or URL are dropped.
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Filename != "AB10000-0001-00_01.jpg" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if stub.authCalls.Load() != 1 {
		t.Errorf("auth calls = %d, want 1", stub.authCalls.Load())
	}

	// A second call reuses the token.
	if _, err := c.ProjectMedia(context.Background(), "AB10000"); err != nil {
		t.Fatal(err)
	}
	if stub.authCalls.Load() != 1 {
		t.Errorf("auth calls after reuse = %d, want 1", stub.authCalls.Load())
	}
}

func TestProjectMedia_RetriesOnExpiredToken(t *testing.T) {
	stub := &icrtStub{}
	srv := stubServer(t, stub)
	c := NewICRT(srv.URL, "id", "key", time.Second)

	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	stub.expireOnce.Store(true)

	entries, err := c.ProjectMedia(context.Background(), "AB10000")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
	if stub.authCalls.Load() != 2 {
		t.Errorf("auth calls = %d, want 2 (initial + refresh)", stub.authCalls.Load())
	}
}

func TestAuthenticate_Rejected(t *testing.T) {
	stub := &icrtStub{rejectAuth: true}
	srv := stubServer(t, stub)
	c := NewICRT(srv.URL, "id", "key", time.Second)

	err := c.Authenticate(context.Background())
	if !errors.Is(err, apperr.ErrCatalogUnavailable) {
		t.Errorf("err = %v, want ErrCatalogUnavailable", err)
	}
}

func TestProjectMedia_UnknownProject(t *testing.T) {
	stub := &icrtStub{}
	srv := stubServer(t, stub)
	c := NewICRT(srv.URL, "id", "key", time.Second)

	_, err := c.ProjectMedia(context.Background(), "ZZ99999")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProjectMedia_ServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewICRT(srv.URL, "id", "key", time.Second)

	_, err := c.ProjectMedia(context.Background(), "AB10000")
	if !errors.Is(err, apperr.ErrCatalogUnavailable) {
		t.Errorf("err = %v, want ErrCatalogUnavailable", err)
	}
}
