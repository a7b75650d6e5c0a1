package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/siep/siep/internal/auth"
	"github.com/siep/siep/internal/rbac"
	"github.com/siep/siep/internal/shared"
	_ "github.com/siep/siep/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]string
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(_ context.Context, id, userID string, _ time.Time, _, _ string) error {
	if s.sessions == nil {
		s.sessions = map[string]string{}
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(_ context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type harness struct {
	handler  *auth.Handler
	sessions *shared.SessionManager
	repo     *stubRepo
}

func newHarness(t *testing.T, user *auth.User) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	repo := &stubRepo{user: user}
	h := auth.NewHandler(nil, auth.NewService(repo), sessions, shared.NewCSRFManager("csrfsecret"), rbac.DefaultMatrix())
	return &harness{handler: h, sessions: sessions, repo: repo}
}

// serve runs fn with a loaded session and commits it, like the app middleware.
func (h *harness) serve(t *testing.T, req *http.Request, fn http.HandlerFunc) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	sess, err := h.sessions.Load(req.Context(), req)
	require.NoError(t, err)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	res := httptest.NewRecorder()
	fn(res, req)
	require.NoError(t, h.sessions.Commit(req.Context(), res, req, sess))
	return res, sess
}

func (h *harness) login(t *testing.T, body string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return h.serve(t, req, h.route)
}

func (h *harness) route(w http.ResponseWriter, r *http.Request) {
	router := chi.NewRouter()
	router.Route("/auth", h.handler.MountRoutes)
	router.ServeHTTP(w, r)
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func directorUser(t *testing.T) *auth.User {
	return &auth.User{
		ID:           "7",
		Email:        "ana@siep.test",
		Name:         "Ana",
		PasswordHash: hashed(t, "correctpass"),
		Role:         "admin",
		CenterID:     "c1",
		IsActive:     true,
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t, directorUser(t))

	res, sess := h.login(t, `{"email":"ana@siep.test","password":"wrongpass"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Contains(t, res.Body.String(), "credenciales inválidas")
	require.Empty(t, sess.User())
	require.Empty(t, res.Result().Cookies())

	res, _ = h.login(t, `{"email":"nobody@siep.test","password":"correctpass"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginValidation(t *testing.T) {
	h := newHarness(t, directorUser(t))

	res, _ := h.login(t, `{"email":"not-an-email","password":"correctpass"}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = h.login(t, `{"email":"ana@siep.test"`)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLoginInactiveUser(t *testing.T) {
	user := directorUser(t)
	user.IsActive = false
	h := newHarness(t, user)

	res, _ := h.login(t, `{"email":"ana@siep.test","password":"correctpass"}`)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginStoresPrincipalAndResolvesRole(t *testing.T) {
	h := newHarness(t, directorUser(t))

	res, sess := h.login(t, `{"email":"ana@siep.test","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var profile auth.Profile
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &profile))
	require.Equal(t, rbac.RoleDirectorCentro, profile.User.Role)
	require.Equal(t, "c1", profile.User.CenterID)
	require.NotEmpty(t, profile.CSRFToken)
	require.Contains(t, profile.Permisos, rbac.Grant{Resource: rbac.ResourceSolicitudes, Level: rbac.LevelAdmin})

	require.Equal(t, "7", sess.User())
	require.Equal(t, "admin", sess.Get(shared.SessionKeyRole))
	require.Equal(t, profile.CSRFToken, sess.Get(shared.CSRFSessionKey))
	require.Equal(t, "7", h.repo.sessions[sess.ID])

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	next := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	next.AddCookie(cookies[0])
	loaded, err := h.sessions.Load(context.Background(), next)
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.Equal(t, "ana@siep.test", loaded.Get(shared.SessionKeyEmail))
}

func TestLogoutDestroysSession(t *testing.T) {
	h := newHarness(t, directorUser(t))
	res, sess := h.login(t, `{"email":"ana@siep.test","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, res.Code)
	cookie := res.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	res, _ = h.serve(t, req, h.route)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.NotContains(t, h.repo.sessions, sess.ID)

	again := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	again.AddCookie(cookie)
	loaded, err := h.sessions.Load(context.Background(), again)
	require.NoError(t, err)
	require.Empty(t, loaded.User())
	require.NotEqual(t, sess.ID, loaded.ID)
}

func TestMe(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	res, _ := h.serve(t, req, h.route)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	id := rbac.Identity{UserID: "9", Role: rbac.RoleCoordinadorCentro}
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(rbac.ContextWithIdentity(req.Context(), id))
	res, _ = h.serve(t, req, h.route)
	require.Equal(t, http.StatusOK, res.Code)
	var profile auth.Profile
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &profile))
	require.Equal(t, rbac.RoleCoordinadorCentro, profile.User.Role)
	require.NotContains(t, profile.Permisos, rbac.Grant{Resource: rbac.ResourceSolicitudes, Level: rbac.LevelWrite})
}

func TestAuthenticate(t *testing.T) {
	svc := auth.NewService(&stubRepo{user: directorUser(t)})
	user, err := svc.Authenticate(context.Background(), "  ANA@siep.test ", "correctpass")
	require.NoError(t, err)
	require.Equal(t, "7", user.ID)

	_, err = svc.Authenticate(context.Background(), "ana@siep.test", "nope")
	require.True(t, errors.Is(err, shared.ErrInvalidCredentials))

	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-pass")))
}
