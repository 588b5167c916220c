package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/geo"
	"github.com/5l1v3r1/tellecast-sub000/internal/identity"
	"github.com/5l1v3r1/tellecast-sub000/internal/location"
	"github.com/5l1v3r1/tellecast-sub000/internal/middleware"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/internal/store"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

type memPrincipals struct {
	mu       sync.Mutex
	byID     map[int64]*models.Principal
	signedIn map[int64]bool
}

func (m *memPrincipals) GetPrincipal(ctx context.Context, id int64) (*models.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "no principal")
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipals) SetSignedIn(ctx context.Context, id int64, signedIn bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signedIn == nil {
		m.signedIn = map[int64]bool{}
	}
	m.signedIn[id] = signedIn
	return nil
}

type memDevices struct {
	mu      sync.Mutex
	devices []models.Device
}

func (m *memDevices) RegisterDevice(ctx context.Context, d *models.Device) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.devices {
		if m.devices[i].Platform == d.Platform && m.devices[i].RegistrationID == d.RegistrationID {
			m.devices[i].UserID = d.UserID
			out := m.devices[i]
			return &out, nil
		}
	}
	d.ID = int64(len(m.devices) + 1)
	m.devices = append(m.devices, *d)
	out := *d
	return &out, nil
}

func (m *memDevices) ListDevices(ctx context.Context, userID int64, platform models.Platform) ([]models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Device
	for _, d := range m.devices {
		if d.UserID == userID && (platform == "" || d.Platform == platform) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDevices) DeleteDevice(ctx context.Context, userID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devices {
		if d.ID == id && d.UserID == userID {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return nil
		}
	}
	return apperr.E(apperr.NotFound, "no device")
}

type recordingNotifications struct {
	mu         sync.Mutex
	dispatched []models.NotificationIntent
	unread     []models.Notification
	marked     []int64
}

func (n *recordingNotifications) Dispatch(ctx context.Context, intent models.NotificationIntent) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, intent)
	return &models.Notification{ID: int64(len(n.dispatched)), UserID: intent.UserID, Type: intent.Type}, nil
}

func (n *recordingNotifications) ListUnread(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	var out []models.Notification
	for _, x := range n.unread {
		if x.UserID == userID && len(out) < limit {
			out = append(out, x)
		}
	}
	return out, nil
}

func (n *recordingNotifications) MarkRead(ctx context.Context, userID int64, ids []int64) (int64, error) {
	n.marked = append(n.marked, ids...)
	return int64(len(ids)), nil
}

// memTells keeps each list's current order and applies the same renumber
// rule as the Postgres store.
type memTells struct {
	masters map[int64][]int64 // owner -> master tell ids
	slaves  map[int64][]int64 // master tell -> slave tell ids
	owners  map[int64]int64   // master tell -> owner
}

func (m *memTells) ReorderMasterTells(ctx context.Context, ownerID int64, order []int64) error {
	if _, err := store.Renumber(m.masters[ownerID], order); err != nil {
		return err
	}
	m.masters[ownerID] = order
	return nil
}

func (m *memTells) ReorderSlaveTells(ctx context.Context, ownerID, masterTellID int64, order []int64) error {
	owner, ok := m.owners[masterTellID]
	if !ok {
		return apperr.E(apperr.NotFound, "no master tell")
	}
	if owner != ownerID {
		return apperr.E(apperr.PermissionDenied, "not your master tell")
	}
	if _, err := store.Renumber(m.slaves[masterTellID], order); err != nil {
		return err
	}
	m.slaves[masterTellID] = order
	return nil
}

type memMessages struct {
	messages []models.Message
}

func (m *memMessages) CreateMessage(ctx context.Context, msg *models.Message) error {
	hasRequest := false
	for _, prev := range m.messages {
		pair := (prev.UserSourceID == msg.UserSourceID && prev.UserDestID == msg.UserDestID) ||
			(prev.UserSourceID == msg.UserDestID && prev.UserDestID == msg.UserSourceID)
		if pair && prev.Type == models.MessageTypeRequest {
			hasRequest = true
		}
	}
	if err := store.ValidateMessage(msg, hasRequest); err != nil {
		return err
	}
	msg.ID = int64(len(m.messages) + 1)
	msg.Status = models.StatusUnread
	m.messages = append(m.messages, *msg)
	return nil
}

type memLocations struct {
	fixes []models.LocationFix
}

func (m *memLocations) Ingest(ctx context.Context, userID int64, fix models.LocationFix) (*models.LocationFix, error) {
	if err := location.Validate(userID, &fix); err != nil {
		return nil, err
	}
	fix.UserID = userID
	m.fixes = append(m.fixes, fix)
	return &fix, nil
}

type staticSource []geo.Candidate

func (s staticSource) Candidates(ctx context.Context, kind geo.Kind, box geo.Box) ([]geo.Candidate, error) {
	var out []geo.Candidate
	for _, c := range s {
		if box.Contains(c.Point) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeSigner struct{}

func (fakeSigner) Token(p *models.Principal) string { return "token-for-" + p.Email }

type env struct {
	h             *Handler
	router        chi.Router
	principals    *memPrincipals
	devices       *memDevices
	notifications *recordingNotifications
	tells         *memTells
	messages      *memMessages
	locations     *memLocations
}

var sanFrancisco = models.Point{Lng: -122.4194, Lat: 37.7749}

func newEnv(t *testing.T) *env {
	t.Helper()
	hash, err := identity.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		principals: &memPrincipals{byID: map[int64]*models.Principal{
			1: {ID: 1, Email: "one@example.com", PasswordHash: hash},
		}},
		devices:       &memDevices{},
		notifications: &recordingNotifications{},
		tells: &memTells{
			masters: map[int64][]int64{1: {10, 11, 12}},
			slaves:  map[int64][]int64{10: {100, 101}},
			owners:  map[int64]int64{10: 1, 11: 1, 12: 1, 20: 2},
		},
		messages:  &memMessages{},
		locations: &memLocations{},
	}
	source := staticSource{
		{ID: 1, Point: sanFrancisco},
		{ID: 2, Point: models.Point{Lng: -122.4194, Lat: 37.7750}},
		{ID: 3, Point: models.Point{Lng: -122.5, Lat: 37.8}},
	}
	e.h = New(Deps{
		Principals:    e.principals,
		Tokens:        fakeSigner{},
		Devices:       e.devices,
		Notifications: e.notifications,
		Tells:         e.tells,
		Messages:      e.messages,
		Locations:     e.locations,
		Proximity:     geo.NewEngine(source),
	}, zap.NewNop())

	r := chi.NewRouter()
	r.Post("/api/tokens", e.h.IssueToken)
	r.Group(func(r chi.Router) {
		// Requests carry the caller id in X-User for these tests.
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, _ := strconv.ParseInt(r.Header.Get("X-User"), 10, 64)
				ctx := middleware.WithPrincipal(r.Context(), &models.Principal{ID: id})
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
		r.Get("/api/tokens/verify", e.h.VerifyToken)
		r.Get("/api/devices", e.h.ListDevices)
		r.Post("/api/devices", e.h.RegisterDevice)
		r.Delete("/api/devices/{id}", e.h.DeleteDevice)
		r.Get("/api/notifications", e.h.ListNotifications)
		r.Post("/api/notifications/read", e.h.MarkNotificationsRead)
		r.Post("/api/master-tells/positions", e.h.ReorderMasterTells)
		r.Post("/api/master-tells/{id}/slave-tells/positions", e.h.ReorderSlaveTells)
		r.Post("/api/messages", e.h.CreateMessage)
		r.Post("/api/users/locations", e.h.PostLocation)
		r.Get("/api/users/nearby", e.h.NearbyUsers)
		r.Get("/api/tellzones/nearby", e.h.NearbyTellzones)
		r.Post("/api/clusters", e.h.Clusters)
	})
	e.router = r
	return e
}

func (e *env) do(t *testing.T, method, path string, user int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User", strconv.FormatInt(user, 10))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestIssueToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/tokens", 0, `{"id":1,"password":"hunter2"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp tokenResponse
	decode(t, rec, &resp)
	if resp.Token != "token-for-one@example.com" || resp.ID != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if !e.principals.signedIn[1] {
		t.Fatal("principal not marked signed in")
	}

	for _, body := range []string{`{"id":1,"password":"wrong"}`, `{"id":99,"password":"hunter2"}`} {
		rec = e.do(t, http.MethodPost, "/api/tokens", 0, body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", body, rec.Code)
		}
	}
	if rec = e.do(t, http.MethodPost, "/api/tokens", 0, `{"id":1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing password: status = %d", rec.Code)
	}
}

func TestDevices(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/devices", 1, `{"platform":"apns","registration_id":"abc","device_id":"phone"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status = %d body=%s", rec.Code, rec.Body)
	}
	var d models.Device
	decode(t, rec, &d)
	if d.UserID != 1 || d.Platform != models.PlatformAPNS {
		t.Fatalf("device = %+v", d)
	}

	// The same registration moves to the newer principal.
	rec = e.do(t, http.MethodPost, "/api/devices", 2, `{"platform":"APNS","registration_id":"abc"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reassign: status = %d", rec.Code)
	}
	var list []models.Device
	decode(t, e.do(t, http.MethodGet, "/api/devices", 1, ""), &list)
	if len(list) != 0 {
		t.Fatalf("old owner still lists %d devices", len(list))
	}

	if rec = e.do(t, http.MethodPost, "/api/devices", 1, `{"platform":"WNS","registration_id":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad platform: status = %d", rec.Code)
	}
	if rec = e.do(t, http.MethodDelete, "/api/devices/1", 1, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete foreign device: status = %d", rec.Code)
	}
	if rec = e.do(t, http.MethodDelete, "/api/devices/1", 2, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", rec.Code)
	}
}

func TestNotifications(t *testing.T) {
	e := newEnv(t)
	e.notifications.unread = []models.Notification{
		{ID: 1, UserID: 1, Type: "A"},
		{ID: 2, UserID: 2, Type: "B"},
		{ID: 3, UserID: 1, Type: "C"},
	}

	var list []models.Notification
	decode(t, e.do(t, http.MethodGet, "/api/notifications", 1, ""), &list)
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 3 {
		t.Fatalf("list = %+v", list)
	}
	if rec := e.do(t, http.MethodGet, "/api/notifications?limit=zero", 1, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d", rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/api/notifications/read", 1, `{"ids":[1,3]}`)
	var out map[string]int64
	decode(t, rec, &out)
	if out["updated"] != 2 {
		t.Fatalf("updated = %d", out["updated"])
	}
	if rec = e.do(t, http.MethodPost, "/api/notifications/read", 1, `{"ids":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty ids: status = %d", rec.Code)
	}
}

func TestReorderTells(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name   string
		path   string
		user   int64
		body   string
		status int
	}{
		{"masters", "/api/master-tells/positions", 1, `{"ids":[12,10,11]}`, http.StatusOK},
		{"masters missing one", "/api/master-tells/positions", 1, `{"ids":[12,10]}`, http.StatusConflict},
		{"masters duplicate", "/api/master-tells/positions", 1, `{"ids":[12,12,10]}`, http.StatusConflict},
		{"slaves", "/api/master-tells/10/slave-tells/positions", 1, `{"ids":[101,100]}`, http.StatusOK},
		{"slaves of foreign master", "/api/master-tells/20/slave-tells/positions", 1, `{"ids":[1]}`, http.StatusForbidden},
		{"slaves unknown master", "/api/master-tells/77/slave-tells/positions", 1, `{"ids":[1]}`, http.StatusNotFound},
		{"bad master id", "/api/master-tells/x/slave-tells/positions", 1, `{"ids":[1]}`, http.StatusBadRequest},
		{"empty", "/api/master-tells/positions", 1, `{"ids":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, tt.path, tt.user, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
	if got := e.tells.masters[1]; len(got) != 3 || got[0] != 12 {
		t.Fatalf("master order = %v", got)
	}
}

func TestCreateMessage(t *testing.T) {
	e := newEnv(t)

	if rec := e.do(t, http.MethodPost, "/api/messages", 1, `{"user_destination_id":1,"type":"Message","contents":"hi"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("self message: status = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/messages", 1, `{"user_destination_id":2,"type":"Response - Accepted"}`); rec.Code != http.StatusConflict {
		t.Fatalf("response before request: status = %d", rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/api/messages", 1, `{"user_destination_id":2,"type":"Request","contents":"hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request: status = %d body=%s", rec.Code, rec.Body)
	}
	var m models.Message
	decode(t, rec, &m)
	if m.UserSourceID != 1 || m.Status != models.StatusUnread {
		t.Fatalf("message = %+v", m)
	}

	rec = e.do(t, http.MethodPost, "/api/messages", 2, `{"user_destination_id":1,"type":"Response - Accepted"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("response: status = %d", rec.Code)
	}

	if len(e.notifications.dispatched) != 2 {
		t.Fatalf("dispatched %d notifications, want 2", len(e.notifications.dispatched))
	}
	first, second := e.notifications.dispatched[0], e.notifications.dispatched[1]
	if first.UserID != 2 || first.Type != "A" || second.UserID != 1 || second.Type != "B" {
		t.Fatalf("intents = %+v %+v", first, second)
	}
}

func TestPostLocation(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/users/locations", 1, `{"point":[-122.4194,37.7749],"bearing":90,"is_casting":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	if len(e.locations.fixes) != 1 || e.locations.fixes[0].UserID != 1 {
		t.Fatalf("fixes = %+v", e.locations.fixes)
	}

	tests := []struct {
		body   string
		status int
	}{
		{`{"point":[-122.4,97]}`, http.StatusBadRequest},
		{`{"point":[1,2],"bearing":400}`, http.StatusBadRequest},
		{`{"user_id":2,"point":[1,2]}`, http.StatusForbidden},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := e.do(t, http.MethodPost, "/api/users/locations", 1, tt.body); rec.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.body, rec.Code, tt.status)
		}
	}
}

func TestNearbyUsersExcludesCaller(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/users/nearby?latitude=37.7749&longitude=-122.4194&radius=100", 1, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var out []geo.Neighbor
	decode(t, rec, &out)
	if len(out) != 1 || out[0].ID != 2 {
		t.Fatalf("nearby = %+v, want only user 2", out)
	}

	rec = e.do(t, http.MethodGet, "/api/tellzones/nearby?latitude=37.7749&longitude=-122.4194&radius=100", 1, "")
	decode(t, rec, &out)
	if len(out) != 2 || out[0].ID != 1 {
		t.Fatalf("tellzones nearby = %+v", out)
	}

	if rec = e.do(t, http.MethodGet, "/api/users/nearby?latitude=abc&longitude=1", 1, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad latitude: status = %d", rec.Code)
	}
	if rec = e.do(t, http.MethodGet, "/api/users/nearby?latitude=1&longitude=1&radius=-5", 1, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative radius: status = %d", rec.Code)
	}
}

func TestClusters(t *testing.T) {
	e := newEnv(t)

	// A and B are about 3 feet apart; C is far away.
	body := `[
		{"id":"a","point":[-122.4194,37.7749]},
		{"id":"b","point":[-122.4194,37.774908]},
		{"id":"c","point":[-122.5,37.8]}
	]`
	rec := e.do(t, http.MethodPost, "/api/clusters", 1, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var out [][]clusterItem
	decode(t, rec, &out)
	if len(out) != 2 || len(out[0]) != 2 || len(out[1]) != 1 {
		t.Fatalf("clusters = %s", rec.Body)
	}
	if string(out[0][0].ID) != `"a"` || string(out[1][0].ID) != `"c"` {
		t.Fatalf("cluster order = %s", rec.Body)
	}

	rec = e.do(t, http.MethodPost, "/api/clusters", 1, `[]`)
	if rec.Code != http.StatusOK || bytes.TrimSpace(rec.Body.Bytes())[0] != '[' {
		t.Fatalf("empty input: %d %s", rec.Code, rec.Body)
	}
	if rec = e.do(t, http.MethodPost, "/api/clusters", 1, `[{"id":1,"point":[0,95]}]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid point: status = %d", rec.Code)
	}

	var big strings.Builder
	big.WriteString("[")
	for i := 0; i <= geo.MaxClusterItems; i++ {
		if i > 0 {
			big.WriteString(",")
		}
		big.WriteString(`{"id":` + strconv.Itoa(i) + `,"point":[0,0]}`)
	}
	big.WriteString("]")
	if rec = e.do(t, http.MethodPost, "/api/clusters", 1, big.String()); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized input: status = %d", rec.Code)
	}
}
