package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	v1 "github.com/mnuddindev/disasterlink/internal/api/v1"
	"github.com/mnuddindev/disasterlink/internal/auth"
	"github.com/mnuddindev/disasterlink/internal/config"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/media"
	"github.com/mnuddindev/disasterlink/internal/models"
	"github.com/mnuddindev/disasterlink/internal/models/community"
	"github.com/mnuddindev/disasterlink/internal/models/incident"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/internal/verify"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code   int            `json:"code"`
		Kind   string         `json:"kind"`
		Errors []utils.CError `json:"errors"`
	} `json:"error"`
}

type testServer struct {
	app   *fiber.App
	db    *gorm.DB
	users map[string]string // name -> bearer token
	ids   map[string]uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := storage.Open(ctx, sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), models.RegisterModels(), storage.WithMaxConns(1))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	log, err := logger.NewLogger(logger.WithOutputDir(t.TempDir()), logger.WithConsole(false))
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(log.Close)

	store, err := media.NewLocalStorage("uploads", media.WithFs(afero.NewMemMapFs()))
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	policy, err := auth.NewPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	auth.Configure("router-test-secret", time.Hour)

	inbox := notify.NewStore(db)
	verifier := verify.New("")
	h := v1.NewHandler(v1.Handler{
		DB:        db,
		Logger:    log,
		Auth:      auth.NewOptions(auth.WithDB(db), auth.WithLogger(log), auth.WithPolicy(policy)),
		Incidents: incident.NewService(db, incident.WithMedia(store), incident.WithNotifier(inbox), incident.WithVerifier(verifier), incident.WithLogger(log)),
		Community: community.NewService(db, community.WithMedia(store), community.WithNotifier(inbox), community.WithLogger(log)),
		Inbox:     inbox,
		Verifier:  verifier,
	})

	app := fiber.New()
	NewRoutes(app, &config.Config{CORSOrigins: "*"}, h, store, log)

	s := &testServer{app: app, db: db, users: map[string]string{}, ids: map[string]uuid.UUID{}}
	s.addUser(t, "civilian", user.RoleCivilian)
	s.addUser(t, "neighbor", user.RoleCivilian)
	s.addUser(t, "responder", user.RoleResponder)
	s.addUser(t, "admin", user.RoleAdmin)
	return s
}

func (s *testServer) addUser(t *testing.T, name string, role user.Role) {
	t.Helper()
	u, err := user.NewUser(context.Background(), nil, s.db, name, name+"@example.com", "unused", user.WithRole(role))
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	token, err := auth.GenerateAccessToken(u.ID.String(), string(role))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	s.users[name] = token
	s.ids[name] = u.ID
}

func (s *testServer) send(t *testing.T, req *http.Request, as string) (int, envelope) {
	t.Helper()
	if as != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+s.users[as])
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, env
}

func (s *testServer) do(t *testing.T, method, path, as string, body interface{}) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return s.send(t, req, as)
}

func decode(t *testing.T, env envelope, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", fiber.Map{"username": "maria", "email": "Maria@Example.com", "password": "secret12"})
	if code != fiber.StatusCreated {
		t.Fatalf("register = %d %+v", code, env)
	}
	var u struct {
		Role     string `json:"role"`
		Password string `json:"password"`
	}
	decode(t, env, &u)
	if u.Role != "civilian" || u.Password != "" {
		t.Fatalf("registered user = %+v", u)
	}

	code, env = s.do(t, http.MethodPost, "/api/v1/auth/register", "", fiber.Map{"username": "x", "email": "nope", "password": "1"})
	if code != fiber.StatusUnprocessableEntity || env.Error == nil || len(env.Error.Errors) != 3 {
		t.Fatalf("invalid register = %d %+v", code, env.Error)
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "maria@example.com", "password": "wrong-one"})
	if code != fiber.StatusUnauthorized {
		t.Fatalf("bad password = %d", code)
	}

	code, env = s.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "maria@example.com", "password": "secret12"})
	if code != fiber.StatusOK {
		t.Fatalf("login = %d", code)
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, env, &login)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+login.AccessToken)
	code, env = s.send(t, req, "")
	var me struct {
		Username string `json:"username"`
	}
	decode(t, env, &me)
	if code != fiber.StatusOK || me.Username != "maria" {
		t.Fatalf("me = %d %+v", code, me)
	}

	if code, _ := s.do(t, http.MethodGet, "/api/v1/auth/me", "", nil); code != fiber.StatusUnauthorized {
		t.Fatalf("anonymous me = %d", code)
	}
}

func TestLoginUpgradesPasswordHash(t *testing.T) {
	s := newTestServer(t)
	t.Cleanup(func() { utils.SetPasswordCost(bcrypt.DefaultCost) })

	utils.SetPasswordCost(bcrypt.MinCost)
	if code, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", fiber.Map{"username": "lito", "email": "lito@example.com", "password": "secret12"}); code != fiber.StatusCreated {
		t.Fatalf("register = %d %+v", code, env)
	}
	storedCost := func() int {
		var hash string
		if err := s.db.Model(&user.User{}).Where("email = ?", "lito@example.com").Pluck("password", &hash).Error; err != nil {
			t.Fatal(err)
		}
		cost, err := bcrypt.Cost([]byte(hash))
		if err != nil {
			t.Fatal(err)
		}
		return cost
	}
	if got := storedCost(); got != bcrypt.MinCost {
		t.Fatalf("registered at cost %d", got)
	}

	utils.SetPasswordCost(bcrypt.MinCost + 1)
	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "lito@example.com", "password": "wrong-one"}); code != fiber.StatusUnauthorized {
		t.Fatalf("bad password = %d", code)
	}
	if got := storedCost(); got != bcrypt.MinCost {
		t.Fatalf("failed login rewrote hash to cost %d", got)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "lito@example.com", "password": "secret12"}); code != fiber.StatusOK {
		t.Fatalf("login = %d", code)
	}
	if got := storedCost(); got != bcrypt.MinCost+1 {
		t.Fatalf("hash cost after login = %d", got)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", fiber.Map{"email": "lito@example.com", "password": "secret12"}); code != fiber.StatusOK {
		t.Fatalf("login with upgraded hash = %d", code)
	}
}

func TestUpdateRoleIsAdminOnly(t *testing.T) {
	s := newTestServer(t)
	path := "/api/v1/users/" + s.ids["neighbor"].String() + "/role"

	if code, _ := s.do(t, http.MethodPatch, path, "responder", fiber.Map{"role": "responder"}); code != fiber.StatusForbidden {
		t.Fatalf("responder promoting = %d", code)
	}
	code, env := s.do(t, http.MethodPatch, path, "admin", fiber.Map{"role": "responder"})
	if code != fiber.StatusOK {
		t.Fatalf("admin promoting = %d %+v", code, env.Error)
	}
	// the old token still claims civilian
	if code, _ := s.do(t, http.MethodGet, "/api/v1/auth/me", "neighbor", nil); code != fiber.StatusUnauthorized {
		t.Fatalf("stale role token = %d", code)
	}
}

func TestIncidentLifecycle(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/incidents", "civilian", fiber.Map{"type": "flood", "description": "Water rising on Rizal St", "severity": "high", "latitude": 14.6, "longitude": 121.0})
	if code != fiber.StatusCreated {
		t.Fatalf("create = %d %+v", code, env.Error)
	}
	var inc struct {
		ID       uuid.UUID `json:"id"`
		Status   string    `json:"status"`
		Metadata map[string]string
	}
	decode(t, env, &inc)
	if inc.Status != "reported" || inc.Metadata["source"] != "api" || inc.Metadata["location_status"] != "provided" {
		t.Fatalf("created incident = %+v", inc)
	}
	path := "/api/v1/incidents/" + inc.ID.String()

	code, env = s.do(t, http.MethodPost, "/api/v1/incidents", "civilian", fiber.Map{"type": "tsunami"})
	if code != fiber.StatusUnprocessableEntity {
		t.Fatalf("invalid incident = %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/incidents", "civilian", fiber.Map{"type": "fire", "description": "x", "colour": "red"}); code != fiber.StatusBadRequest {
		t.Fatalf("unknown field = %d", code)
	}

	// not public until staff pick it up
	if code, _ := s.do(t, http.MethodGet, path, "neighbor", nil); code != fiber.StatusForbidden {
		t.Fatalf("neighbor read = %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, path+"/status", "civilian", fiber.Map{"status": "verified"}); code != fiber.StatusForbidden {
		t.Fatalf("civilian transition = %d", code)
	}
	code, env = s.do(t, http.MethodPost, path+"/status", "responder", fiber.Map{"status": "verified", "notes": "Confirmed by barangay"})
	if code != fiber.StatusOK {
		t.Fatalf("verify = %d %+v", code, env.Error)
	}
	if code, _ := s.do(t, http.MethodGet, path, "neighbor", nil); code != fiber.StatusOK {
		t.Fatalf("neighbor read after verify = %d", code)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/incidents/public?lat=14.6&lng=121.0&radius_km=5", "", nil)
	var public struct {
		Total int64 `json:"total"`
	}
	decode(t, env, &public)
	if code != fiber.StatusOK || public.Total != 1 {
		t.Fatalf("public feed = %d total %d", code, public.Total)
	}

	if code, _ := s.do(t, http.MethodPost, path+"/status", "responder", fiber.Map{"status": "resolved"}); code != fiber.StatusOK {
		t.Fatalf("resolve = %d", code)
	}
	code, env = s.do(t, http.MethodPost, path+"/status", "responder", fiber.Map{"status": "investigating"})
	if code != fiber.StatusConflict || env.Error.Kind != "invalid_transition" {
		t.Fatalf("reopen = %d %+v", code, env.Error)
	}
	if code, _ := s.do(t, http.MethodPatch, path, "civilian", fiber.Map{"title": "late edit"}); code != fiber.StatusConflict {
		t.Fatalf("owner edit after resolve = %d", code)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/incidents/stats", "responder", nil)
	if code != fiber.StatusOK {
		t.Fatalf("stats = %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/incidents/stats", "civilian", nil); code != fiber.StatusForbidden {
		t.Fatalf("civilian stats = %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/incidents/not-a-uuid", "civilian", nil); code != fiber.StatusBadRequest {
		t.Fatalf("bad id = %d", code)
	}
}

func TestSOSLifecycle(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/sos", "civilian", fiber.Map{"type": "medical", "message": "Father collapsed, need ambulance", "contact_number": "+63 917 555 0101"})
	if code != fiber.StatusCreated {
		t.Fatalf("sos = %d %+v", code, env.Error)
	}
	var sos struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	decode(t, env, &sos)
	if sos.Status != "active" {
		t.Fatalf("status = %s", sos.Status)
	}
	path := "/api/v1/sos/" + sos.ID.String()

	code, env = s.do(t, http.MethodGet, "/api/v1/sos/queue", "responder", nil)
	var queue []struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, env, &queue)
	if code != fiber.StatusOK || len(queue) != 1 || queue[0].ID != sos.ID {
		t.Fatalf("queue = %d %+v", code, queue)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/sos/queue", "civilian", nil); code != fiber.StatusForbidden {
		t.Fatalf("civilian queue = %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, path, "neighbor", nil); code != fiber.StatusForbidden {
		t.Fatalf("neighbor read = %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, path+"/cancel", "neighbor", nil); code != fiber.StatusForbidden {
		t.Fatalf("neighbor cancel = %d", code)
	}

	code, env = s.do(t, http.MethodPost, path+"/acknowledge", "responder", nil)
	decode(t, env, &sos)
	if code != fiber.StatusOK || sos.Status != "responding" {
		t.Fatalf("acknowledge = %d %s", code, sos.Status)
	}
	code, env = s.do(t, http.MethodPost, path+"/cancel", "civilian", nil)
	if code != fiber.StatusConflict || env.Error.Kind != "invalid_state" {
		t.Fatalf("cancel while responding = %d %+v", code, env.Error)
	}
	code, env = s.do(t, http.MethodPost, path+"/resolve", "responder", fiber.Map{"notes": "Transported to hospital"})
	decode(t, env, &sos)
	if code != fiber.StatusOK || sos.Status != "resolved" {
		t.Fatalf("resolve = %d %s", code, sos.Status)
	}

	// staff were alerted at creation
	code, env = s.do(t, http.MethodGet, "/api/v1/notifications/unread", "responder", nil)
	var unread struct {
		Unread int64 `json:"unread"`
	}
	decode(t, env, &unread)
	if code != fiber.StatusOK || unread.Unread == 0 {
		t.Fatalf("responder unread = %d %d", code, unread.Unread)
	}
}

func TestRadiusDefaultsPerFeed(t *testing.T) {
	s := newTestServer(t)

	// about 7 km north of the query point
	at := fiber.Map{"latitude": 14.663, "longitude": 121.0}
	inc := fiber.Map{"type": "flood", "description": "Creek overflowing", "severity": "medium"}
	sos := fiber.Map{"type": "other", "message": "Stranded on roof", "contact_number": "+63 917 555 0102"}
	for k, v := range at {
		inc[k], sos[k] = v, v
	}
	if code, env := s.do(t, http.MethodPost, "/api/v1/incidents", "civilian", inc); code != fiber.StatusCreated {
		t.Fatalf("incident = %d %+v", code, env.Error)
	}
	if code, env := s.do(t, http.MethodPost, "/api/v1/sos", "civilian", sos); code != fiber.StatusCreated {
		t.Fatalf("sos = %d %+v", code, env.Error)
	}

	total := func(path string) int64 {
		t.Helper()
		code, env := s.do(t, http.MethodGet, path, "responder", nil)
		if code != fiber.StatusOK {
			t.Fatalf("%s = %d %+v", path, code, env.Error)
		}
		var out struct {
			Total int64 `json:"total"`
		}
		decode(t, env, &out)
		return out.Total
	}
	if got := total("/api/v1/incidents?lat=14.6&lng=121.0"); got != 1 {
		t.Fatalf("incidents within default radius = %d", got)
	}
	if got := total("/api/v1/sos?lat=14.6&lng=121.0"); got != 0 {
		t.Fatalf("sos within default radius = %d", got)
	}
	if got := total("/api/v1/sos?lat=14.6&lng=121.0&radius_km=8"); got != 1 {
		t.Fatalf("sos within 8 km = %d", got)
	}
	if got := total("/api/v1/incidents?lat=14.6&lng=121.0&radius_km=-3"); got != 1 {
		t.Fatalf("negative radius falls back to default = %d", got)
	}
}

func TestSOSMultipartWithoutLocation(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("type", "fire")
	w.WriteField("message", "Kitchen fire, trapped upstairs")
	w.WriteField("people_affected", "3")
	part, _ := w.CreateFormFile("images", "smoke.png")
	part.Write(pngHeader)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sos", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	code, env := s.send(t, req, "civilian")
	if code != fiber.StatusCreated {
		t.Fatalf("multipart sos = %d %+v", code, env.Error)
	}
	var sos struct {
		PeopleAffected int      `json:"people_affected"`
		Images         []string `json:"images"`
		Metadata       map[string]string
	}
	decode(t, env, &sos)
	if sos.PeopleAffected != 3 || len(sos.Images) != 1 || sos.Metadata["location_status"] != "unknown" {
		t.Fatalf("sos = %+v", sos)
	}

	code, _ = s.do(t, http.MethodGet, "/media/"+sos.Images[0], "", nil)
	if code != fiber.StatusOK {
		t.Fatalf("media = %d", code)
	}
}

func TestCommunityEngagement(t *testing.T) {
	s := newTestServer(t)

	if code, _ := s.do(t, http.MethodPost, "/api/v1/communities", "civilian", fiber.Map{"name": "Barangay 12"}); code != fiber.StatusForbidden {
		t.Fatalf("civilian community = %d", code)
	}
	code, env := s.do(t, http.MethodPost, "/api/v1/communities", "responder", fiber.Map{"name": "Barangay 12", "type": "barangay"})
	if code != fiber.StatusCreated {
		t.Fatalf("community = %d %+v", code, env.Error)
	}
	var com struct {
		ID   uuid.UUID `json:"id"`
		Slug string    `json:"slug"`
	}
	decode(t, env, &com)
	if code, _ := s.do(t, http.MethodGet, "/api/v1/communities/"+com.Slug, "", nil); code != fiber.StatusOK {
		t.Fatalf("get by slug = %d", code)
	}

	code, env = s.do(t, http.MethodPost, "/api/v1/communities/"+com.ID.String()+"/posts", "civilian", fiber.Map{"content": "Evacuation center at the school is open"})
	if code != fiber.StatusCreated {
		t.Fatalf("post = %d %+v", code, env.Error)
	}
	var post struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, env, &post)
	path := "/api/v1/posts/" + post.ID.String()

	code, env = s.do(t, http.MethodPost, path+"/react", "neighbor", fiber.Map{"type": "care"})
	var react community.ReactResult
	decode(t, env, &react)
	if code != fiber.StatusOK || react.Action != community.ReactAdded || react.Counts[community.ReactionCare] != 1 {
		t.Fatalf("react = %d %+v", code, react)
	}
	if code, _ := s.do(t, http.MethodPost, path+"/react", "neighbor", fiber.Map{"type": "meh"}); code != fiber.StatusUnprocessableEntity {
		t.Fatalf("bad reaction = %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, path+"/react", "", fiber.Map{"type": "like"}); code != fiber.StatusUnauthorized {
		t.Fatalf("anonymous reaction = %d", code)
	}

	code, env = s.do(t, http.MethodPost, path+"/comments", "neighbor", fiber.Map{"content": "Thank you!"})
	if code != fiber.StatusCreated {
		t.Fatalf("comment = %d %+v", code, env.Error)
	}
	var comment struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, env, &comment)
	if code, _ := s.do(t, http.MethodPost, path+"/comments", "civilian", fiber.Map{"content": "Reply", "parent_comment_id": comment.ID}); code != fiber.StatusCreated {
		t.Fatalf("reply = %d", code)
	}

	code, env = s.do(t, http.MethodGet, path+"/comments", "", nil)
	var thread []struct {
		Replies []struct {
			Content string `json:"content"`
		} `json:"replies"`
	}
	decode(t, env, &thread)
	if code != fiber.StatusOK || len(thread) != 1 || len(thread[0].Replies) != 1 {
		t.Fatalf("thread = %d %+v", code, thread)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/feed?community_id="+com.ID.String(), "", nil)
	var feed struct {
		Items []struct {
			LikesCount    int `json:"likes_count"`
			CommentsCount int `json:"comments_count"`
		} `json:"items"`
	}
	decode(t, env, &feed)
	if code != fiber.StatusOK || len(feed.Items) != 1 || feed.Items[0].LikesCount != 1 || feed.Items[0].CommentsCount != 2 {
		t.Fatalf("feed = %d %+v", code, feed)
	}

	if code, _ := s.do(t, http.MethodGet, path+"/counters", "responder", nil); code != fiber.StatusForbidden {
		t.Fatalf("responder counters = %d", code)
	}
	code, env = s.do(t, http.MethodGet, path+"/counters", "admin", nil)
	var report community.CounterReport
	decode(t, env, &report)
	if code != fiber.StatusOK || report.Drift() {
		t.Fatalf("counters = %d %+v", code, report)
	}

	// author inbox: reaction and top-level comment; the reply was the author's own
	code, env = s.do(t, http.MethodGet, "/api/v1/notifications?unread=true", "civilian", nil)
	var inbox struct {
		Total int64 `json:"total"`
		Items []struct {
			ID uuid.UUID `json:"id"`
		} `json:"items"`
	}
	decode(t, env, &inbox)
	if code != fiber.StatusOK || inbox.Total != 2 {
		t.Fatalf("inbox = %d %+v", code, inbox)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/v1/notifications/"+inbox.Items[0].ID.String()+"/read", "neighbor", nil); code != fiber.StatusNotFound {
		t.Fatalf("reading someone else's notification = %d", code)
	}
	code, env = s.do(t, http.MethodPost, "/api/v1/notifications/read-all", "civilian", nil)
	var updated struct {
		Updated int64 `json:"updated"`
	}
	decode(t, env, &updated)
	if code != fiber.StatusOK || updated.Updated != 2 {
		t.Fatalf("read-all = %d %+v", code, updated)
	}

	notePath := "/api/v1/notifications/" + inbox.Items[0].ID.String()
	if code, _ := s.do(t, http.MethodDelete, notePath, "neighbor", nil); code != fiber.StatusNotFound {
		t.Fatalf("deleting someone else's notification = %d", code)
	}
	if code, _ := s.do(t, http.MethodDelete, notePath, "civilian", nil); code != fiber.StatusOK {
		t.Fatalf("delete notification = %d", code)
	}
	code, env = s.do(t, http.MethodGet, "/api/v1/notifications", "civilian", nil)
	decode(t, env, &inbox)
	if code != fiber.StatusOK || inbox.Total != 1 {
		t.Fatalf("inbox after delete = %d %+v", code, inbox)
	}

	code, env = s.do(t, http.MethodGet, "/api/v1/community/search?q=School", "neighbor", nil)
	var found community.SearchResult
	decode(t, env, &found)
	if code != fiber.StatusOK || found.TotalPosts != 1 || found.Posts[0].ID != post.ID {
		t.Fatalf("search = %d %+v", code, found)
	}
	code, env = s.do(t, http.MethodGet, "/api/v1/community/search?q=neighbor", "civilian", nil)
	decode(t, env, &found)
	if code != fiber.StatusOK || len(found.People) != 1 || found.People[0].ID != s.ids["neighbor"] {
		t.Fatalf("people search = %d %+v", code, found.People)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/v1/community/search", "", nil); code != fiber.StatusUnprocessableEntity {
		t.Fatalf("empty search = %d", code)
	}

	if code, _ := s.do(t, http.MethodPost, path+"/moderate", "responder", fiber.Map{"action": "hide", "notes": "duplicate"}); code != fiber.StatusOK {
		t.Fatalf("hide = %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, path, "neighbor", nil); code != fiber.StatusNotFound {
		t.Fatalf("hidden post for neighbor = %d", code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, http.MethodGet, "/healthz", "", nil)
	var checks map[string]string
	decode(t, env, &checks)
	if code != fiber.StatusOK || checks["database"] != "ok" || checks["verifier"] != "disabled" || checks["redis"] != "disabled" {
		t.Fatalf("health = %d %+v", code, checks)
	}
}

func TestShutdownReleasesAfterDrain(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}

	entered := make(chan struct{})
	app.Get("/slow", func(c *fiber.Ctx) error {
		close(entered)
		time.Sleep(200 * time.Millisecond)
		record("request")
		return c.SendString("done")
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)

	result := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/slow")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err = fiber.NewError(resp.StatusCode, "unexpected status")
			}
		}
		result <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}
	err = Shutdown(app, 5*time.Second,
		func() { record("notifications") },
		func() { record("redis") },
	)
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := <-result; err != nil {
		t.Fatalf("in-flight request: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"request", "notifications", "redis"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
