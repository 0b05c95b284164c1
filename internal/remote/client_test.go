package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/myclass/attendsync/internal/session"
)

func testSession() *session.Session {
	return &session.Session{
		ID:             "1700000000000-abc",
		CreatedAt:      time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
		Subject:        &session.Subject{Code: "CS501", Name: "Compilers"},
		SessionDetails: "CS501 - P2",
		Students: []session.Student{
			{RegNo: "A1", Name: "Ann", Status: session.StatusPresent},
		},
		MarkedBy:         "u1",
		IsOfflineCreated: true,
	}
}

// TestClient_Create tests the request shape and the returned id
func TestClient_Create(t *testing.T) {
	var got CreateRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(CreateResponse{OK: true, SessionID: "srv-123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "tok", time.Second)
	id, err := c.Create(context.Background(), testSession())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if id != "srv-123" {
		t.Errorf("id = %q, want srv-123", id)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
	want := []StudentRecord{{RegNo: "A1", StudentName: "Ann", Status: session.StatusPresent}}
	if diff := cmp.Diff(want, got.Students); diff != "" {
		t.Errorf("students mismatch (-want +got):\n%s", diff)
	}
	if got.MarkedBy != "u1" || !got.IsOfflineCreated {
		t.Errorf("request = %+v", got)
	}
}

// TestClient_CreateRejected tests that ok=false is an error
func TestClient_CreateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(CreateResponse{OK: false, Message: "bad owner"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Create(context.Background(), testSession())
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Create() = %v, want ErrRejected", err)
	}
}

// TestClient_StatusError tests non-2xx handling
func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", time.Second).Delete(context.Background(), "x")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Delete() = %v, want *StatusError", err)
	}
	if se.Code != http.StatusInternalServerError || se.Body != "boom" {
		t.Errorf("StatusError = %+v", se)
	}
}

// TestClient_Unreachable tests the unavailable classification
func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", time.Second).List(context.Background(), "u1", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("List() = %v, want ErrUnavailable", err)
	}
}

// TestClient_ListWithRange tests query parameters and reshaping
func TestClient_ListWithRange(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	day := time.Date(2024, 3, 2, 15, 0, 0, 0, loc)
	r := DayRange(day, loc)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if q.Get("markedBy") != "u1" {
			t.Errorf("markedBy = %q", q.Get("markedBy"))
		}
		start, err := time.Parse(time.RFC3339Nano, q.Get("startDate"))
		if err != nil || !start.Equal(r.Start) {
			t.Errorf("startDate = %q (%v)", q.Get("startDate"), err)
		}
		end, err := time.Parse(time.RFC3339Nano, q.Get("endDate"))
		if err != nil || !end.Equal(r.End) {
			t.Errorf("endDate = %q (%v)", q.Get("endDate"), err)
		}
		rec := NewCreateRequest(testSession()).Record("srv-1", day)
		_ = json.NewEncoder(w).Encode([]SessionRecord{rec})
	}))
	defer srv.Close()

	list, err := NewClient(srv.URL, "", time.Second).List(context.Background(), "u1", r)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0].ID != "srv-1" || !list[0].IsSynced || list[0].Students[0].Name != "Ann" {
		t.Errorf("session = %+v", list[0])
	}
}

func TestDayRange(t *testing.T) {
	loc := time.UTC
	r := DayRange(time.Date(2024, 3, 2, 15, 0, 0, 0, loc), loc)
	if !r.Contains(time.Date(2024, 3, 2, 23, 59, 59, 999_000_000, loc)) {
		t.Error("range excludes last millisecond of the day")
	}
	if r.Contains(time.Date(2024, 3, 3, 0, 0, 0, 0, loc)) {
		t.Error("range includes next midnight")
	}
	var all *DateRange
	if !all.Contains(time.Now()) {
		t.Error("nil range excludes a time")
	}
}
