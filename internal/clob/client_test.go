package clob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger, _ := zap.NewDevelopment()
	return New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, Logger: logger}), srv
}

func TestGetBook(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			t.Errorf("path = %q, want /book", r.URL.Path)
		}
		if got := r.URL.Query().Get("token_id"); got != "tok1" {
			t.Errorf("token_id = %q, want tok1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"market":"0xabc","asset_id":"tok1","timestamp":"1700000000000","bids":[{"price":"0.44","size":"100"}],"asks":[{"price":"0.46","size":"50"}]}`))
	})

	book, err := client.GetBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if book.AssetID != "tok1" || len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Errorf("unexpected book: %+v", book)
	}

	ev := book.ToStreamEvent(time.Now())
	if ev.EventType != "book" || ev.Timestamp != 1700000000000 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestGetBook_ServerError(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.GetBook(context.Background(), "tok1")
	if err == nil {
		t.Fatal("expected error")
	}
	// 4xx responses must not be retried.
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGetBook_RetriesOn5xx(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"asset_id":"tok1","bids":[],"asks":[]}`))
	})

	book, err := client.GetBook(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("GetBook after retries: %v", err)
	}
	if book.AssetID != "tok1" {
		t.Errorf("asset = %q", book.AssetID)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestGetBooks(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/books" {
			t.Errorf("%s %s, want POST /books", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"asset_id":"tok1","bids":[],"asks":[]},{"asset_id":"tok2","bids":[],"asks":[]}]`))
	})

	books, err := client.GetBooks(context.Background(), []string{"tok1", "tok2"})
	if err != nil {
		t.Fatalf("GetBooks: %v", err)
	}
	if len(books) != 2 {
		t.Fatalf("got %d books, want 2", len(books))
	}
}

func TestGetMidpoint(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mid":"0.455"}`))
	})

	mid, err := client.GetMidpoint(context.Background(), "tok1")
	if err != nil {
		t.Fatalf("GetMidpoint: %v", err)
	}
	if mid != "0.455" {
		t.Errorf("mid = %q", mid)
	}
}

func TestGetPrice(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("side"); got != "BUY" {
			t.Errorf("side = %q, want BUY", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price":"0.46"}`))
	})

	price, err := client.GetPrice(context.Background(), "tok1", "BUY")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != "0.46" {
		t.Errorf("price = %q", price)
	}
}

func TestGetServerTime(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`1700000000`))
	})

	ts, err := client.GetServerTime(context.Background())
	if err != nil {
		t.Fatalf("GetServerTime: %v", err)
	}
	if ts.Unix() != 1700000000 {
		t.Errorf("ts = %v", ts)
	}
}
