package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cycle-reservation/internal/handler"
	"github.com/iliyamo/cycle-reservation/internal/model"
	"github.com/iliyamo/cycle-reservation/internal/repository"
)

func itoa(id uint64) string { return strconv.FormatUint(id, 10) }

type fakeBicycles struct {
	mu     sync.Mutex
	bikes  []model.Bicycle
	nextID uint64
	refs   map[uint64]bool
	err    error
}

func (f *fakeBicycles) List(context.Context) ([]model.Bicycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Bicycle(nil), f.bikes...), nil
}

func (f *fakeBicycles) Create(_ context.Context, name string, rate int64) (model.Bicycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b := model.Bicycle{ID: f.nextID, Name: name, HourlyRateCents: rate, Available: true}
	f.bikes = append(f.bikes, b)
	return b, nil
}

func (f *fakeBicycles) Update(_ context.Context, id uint64, name string, rate int64) (model.Bicycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bikes {
		if f.bikes[i].ID == id {
			f.bikes[i].Name = name
			f.bikes[i].HourlyRateCents = rate
			return f.bikes[i], nil
		}
	}
	return model.Bicycle{}, repository.ErrBicycleNotFound
}

func (f *fakeBicycles) Delete(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[id] {
		return repository.ErrConflict
	}
	for i := range f.bikes {
		if f.bikes[i].ID == id {
			f.bikes = append(f.bikes[:i], f.bikes[i+1:]...)
			return nil
		}
	}
	return repository.ErrBicycleNotFound
}

func bicycleServer(repo *fakeBicycles, changes *int) *echo.Echo {
	e := newEcho()
	h := handler.NewBicycleHandler(repo)
	h.OnChange = func(context.Context) { *changes++ }
	e.GET("/v1/cycles", h.List)
	e.POST("/v1/cycles", h.Create)
	e.PUT("/v1/cycles/:id", h.Update)
	e.DELETE("/v1/cycles/:id", h.Delete)
	return e
}

func send(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type bicycleList struct {
	Items []model.Bicycle `json:"items"`
	Count int             `json:"count"`
}

func TestBicycleListFiltersByAvailability(t *testing.T) {
	repo := &fakeBicycles{bikes: []model.Bicycle{
		{ID: 1, Name: "City", HourlyRateCents: 1000, Available: true},
		{ID: 2, Name: "Cargo", HourlyRateCents: 1500, Available: false},
		{ID: 3, Name: "Road", HourlyRateCents: 1200, Available: true},
	}}
	changes := 0
	e := bicycleServer(repo, &changes)

	cases := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 3},
		{"?available=true", http.StatusOK, 2},
		{"?available=false", http.StatusOK, 1},
		{"?available=maybe", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		rec := send(e, http.MethodGet, "/v1/cycles"+tc.query, "")
		if rec.Code != tc.code {
			t.Fatalf("%q: status = %d, want %d", tc.query, rec.Code, tc.code)
		}
		if tc.code != http.StatusOK {
			continue
		}
		if got := decode[bicycleList](t, rec); got.Count != tc.count || len(got.Items) != tc.count {
			t.Fatalf("%q: %+v, want %d items", tc.query, got, tc.count)
		}
	}

	repo.err = errors.New("db down")
	if rec := send(e, http.MethodGet, "/v1/cycles", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("store failure = %d, want 500", rec.Code)
	}
}

func TestBicycleWrites(t *testing.T) {
	repo := &fakeBicycles{refs: map[uint64]bool{}}
	changes := 0
	e := bicycleServer(repo, &changes)

	rec := send(e, http.MethodPost, "/v1/cycles", `{"name":" City ","hourly_rate_cents":1000}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body)
	}
	created := decode[model.Bicycle](t, rec)
	if created.Name != "City" || !created.Available {
		t.Fatalf("created %+v", created)
	}

	if rec := send(e, http.MethodPost, "/v1/cycles", `{"hourly_rate_cents":1000}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name = %d, want 400", rec.Code)
	}
	if rec := send(e, http.MethodPost, "/v1/cycles", `{"name":"X","hourly_rate_cents":-5}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative rate = %d, want 400", rec.Code)
	}

	rec = send(e, http.MethodPut, "/v1/cycles/1", `{"name":"City+","hourly_rate_cents":1100}`)
	if rec.Code != http.StatusOK || decode[model.Bicycle](t, rec).HourlyRateCents != 1100 {
		t.Fatalf("update = %d %s", rec.Code, rec.Body)
	}
	if rec := send(e, http.MethodPut, "/v1/cycles/9", `{"name":"Ghost","hourly_rate_cents":1}`); rec.Code != http.StatusNotFound {
		t.Fatalf("update missing = %d, want 404", rec.Code)
	}

	repo.refs[1] = true
	if rec := send(e, http.MethodDelete, "/v1/cycles/1", ""); rec.Code != http.StatusConflict {
		t.Fatalf("delete referenced = %d, want 409", rec.Code)
	}
	repo.refs[1] = false
	if rec := send(e, http.MethodDelete, "/v1/cycles/1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := send(e, http.MethodDelete, "/v1/cycles/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete twice = %d, want 404", rec.Code)
	}
	if rec := send(e, http.MethodDelete, "/v1/cycles/zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", rec.Code)
	}

	// create, update, delete
	if changes != 3 {
		t.Fatalf("OnChange ran %d times, want 3", changes)
	}
}
