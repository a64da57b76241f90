//go:build integration || !unit

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	httpserver "mane_reservas/internal/adapters/http_server"
	"mane_reservas/internal/adapters/maneapi"
	"mane_reservas/internal/app"
	"mane_reservas/internal/domain"
	mysqlrepo "mane_reservas/internal/storage/mysql"
)

// ---------- helpers ----------

func migrationsDir() string {
	if v := os.Getenv("MIGRATIONS_DIR"); v != "" {
		return v
	}
	return filepath.Join("..", "..", "migrations")
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := migrationsDir()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("dockertest unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker daemon unavailable: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=reservas"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/reservas?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	applyMigrations(t, db)
	return db
}

// ---------- fake reservations backend ----------

type backend struct {
	mu     sync.Mutex
	rec    map[string]any
	status string
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /v1/units/public/options/list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, []map[string]any{{"id": "aguas-claras", "name": "Mané Mercado — Águas Claras"}})
	})
	mux.HandleFunc("GET /v1/areas/public/by-unit/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, []map[string]any{{"id": "varanda", "name": "Varanda", "photoUrl": "/img/varanda.jpg"}})
	})
	mux.HandleFunc("GET /v1/reservations/public/availability", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, []map[string]any{{"id": "varanda", "available": 5}})
	})
	mux.HandleFunc("POST /v1/reservations/public", func(w http.ResponseWriter, r *http.Request) {
		var req domain.CreateReservationRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.rec != nil {
			writeJSON(w, 409, map[string]any{"errorCode": domain.ActiveReservationCode, "reservationId": "r-1", "message": "já existe"})
			return
		}
		b.rec = map[string]any{
			"id":              "r-1",
			"reservationCode": "JT5WK6",
			"reservationDate": req.ReservedAt,
			"people":          req.People,
			"kids":            req.Kids,
			"unitId":          req.UnitID,
			"areaId":          req.AreaID,
			"fullName":        req.FullName,
			"cpf":             req.CPF,
		}
		b.status = "AWAITING_CHECKIN"
		writeJSON(w, 201, map[string]any{"id": "r-1", "reservationCode": "JT5WK6"})
	})
	mux.HandleFunc("GET /v1/reservations/public/active", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.rec == nil || r.URL.Query().Get("id") != "r-1" {
			writeJSON(w, 404, map[string]any{"message": "not found"})
			return
		}
		out := map[string]any{"status": b.status}
		for k, v := range b.rec {
			out[k] = v
		}
		writeJSON(w, 200, out)
	})
	mux.HandleFunc("GET /v1/reservations/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.rec == nil {
			writeJSON(w, 404, map[string]any{"message": "not found"})
			return
		}
		writeJSON(w, 200, map[string]any{"status": b.status})
	})
	return mux
}

func (b *backend) checkIn() {
	b.mu.Lock()
	b.status = "CHECKED_IN"
	b.mu.Unlock()
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// newBFF stands up the booking HTTP surface over the given backend and slot.
func newBFF(t *testing.T, backendURL string, slot domain.Cache) *httptest.Server {
	t.Helper()
	api, err := maneapi.New(backendURL, 5*time.Second, 100)
	if err != nil {
		t.Fatalf("maneapi.New: %v", err)
	}
	loc := time.FixedZone("BRT", -3*3600)
	svc := app.NewBookingService(api, slot, nil, app.BookingConfig{
		Clock:       fixedClock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, loc)},
		Location:    loc,
		Policy:      domain.DefaultPolicy(),
		SnapshotTTL: 24 * time.Hour,
		CatalogTTL:  time.Minute,
	})
	srv := httpserver.New()
	srv.MountHandlers(&httpserver.Handlers{Svc: svc})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(func() {
		ts.Close()
		svc.Sessions.Close()
	})
	return ts
}

func call(t *testing.T, method, url string, body any) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	if res.StatusCode >= 300 {
		t.Fatalf("%s %s: status %d %v", method, url, res.StatusCode, out)
	}
	return out
}

func stateOf(v map[string]any) any { return v["state"] }

// ---------- the test ----------

func TestBookingSurvivesRestart_MySQLSlot(t *testing.T) {
	db := startMySQL(t)
	slot := mysqlrepo.New(db)

	be := &backend{}
	upstream := httptest.NewServer(be.handler())
	defer upstream.Close()

	// first process: book a table
	bff := newBFF(t, upstream.URL, slot)
	start := call(t, http.MethodPost, bff.URL+"/v1/wizard", map[string]string{"snapshotKey": "kiosk-7"})
	base := bff.URL + "/v1/wizard/" + start["id"].(string)

	call(t, http.MethodPatch, base+"/selection", map[string]any{
		"unitId": "aguas-claras", "adults": 2, "children": 1, "date": "2025-03-11", "time": "19:00",
		"guest": map[string]any{
			"fullName": "Ana Souza", "cpf": "529.982.247-25", "email": "ana@exemplo.com",
			"phone": "(61) 99999-8888", "birthday": "1990-05-20",
		},
	})
	call(t, http.MethodPost, base+"/next", nil)
	call(t, http.MethodPost, base+"/next", nil)
	if v := call(t, http.MethodPost, base+"/submit", nil); stateOf(v) != "confirmed" {
		t.Fatalf("submit: %v", v)
	}
	pass := call(t, http.MethodGet, base+"/pass", nil)
	if pass["code"] != "JT5WK6" || pass["time"] != "19:00" || pass["areaName"] != "Varanda" {
		t.Fatalf("pass: %v", pass)
	}

	// second process, same durable slot: confirmation is resumed
	bff2 := newBFF(t, upstream.URL, slot)
	resumed := call(t, http.MethodPost, bff2.URL+"/v1/wizard", map[string]string{"snapshotKey": "kiosk-7"})
	if v := resumed["view"].(map[string]any); stateOf(v) != "confirmed" {
		t.Fatalf("resume: %v", v)
	}

	// booking again from another device lands on the same reservation
	other := call(t, http.MethodPost, bff2.URL+"/v1/wizard", map[string]string{"snapshotKey": "kiosk-8"})
	obase := bff2.URL + "/v1/wizard/" + other["id"].(string)
	call(t, http.MethodPatch, obase+"/selection", map[string]any{
		"unitId": "aguas-claras", "adults": 2, "children": 1, "date": "2025-03-11", "time": "19:00",
		"guest": map[string]any{
			"fullName": "Ana Souza", "cpf": "52998224725", "email": "ana@exemplo.com",
			"phone": "61999998888", "birthday": "1990-05-20",
		},
	})
	call(t, http.MethodPost, obase+"/next", nil)
	call(t, http.MethodPost, obase+"/next", nil)
	again := call(t, http.MethodPost, obase+"/submit", nil)
	if stateOf(again) != "confirmed" || again["recovered"] != true {
		t.Fatalf("conflict recovery: %v", again)
	}
	if res := again["reservation"].(map[string]any); res["code"] != "JT5WK6" {
		t.Fatalf("recovered code: %v", res)
	}

	// after check-in the slot is dropped on the next visit
	be.checkIn()
	fresh := call(t, http.MethodPost, bff2.URL+"/v1/wizard", map[string]string{"snapshotKey": "kiosk-7"})
	if v := fresh["view"].(map[string]any); stateOf(v) != "datetime" {
		t.Fatalf("checked-in reservation resumed: %v", v)
	}
	var s domain.Snapshot
	if ok, err := slot.Get(context.Background(), "last:kiosk-7", &s); ok || err != nil {
		t.Fatalf("slot should be cleared: ok=%v err=%v", ok, err)
	}
}
