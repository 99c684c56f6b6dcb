package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anonto42/nano-midea/notifier/internal/middleware"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/services"
	"github.com/anonto42/nano-midea/notifier/internal/validators"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotifications serves a fixed set of rows for user 1. Unimplemented methods panic.
type fakeNotifications struct {
	NotificationAPI
	rows        []models.Notification
	markedAll   int
	removed     []string
	lastQuery   services.ListQuery
	lastUpdated services.UpdateInput
}

func (f *fakeNotifications) FindAll(_ context.Context, userID uint, q services.ListQuery) (*services.NotificationPage, error) {
	if userID == 0 {
		return nil, services.ErrUnauthenticated
	}
	if q.Status == models.StatusDeleted {
		return nil, services.ErrValidation
	}
	f.lastQuery = q
	return &services.NotificationPage{Notifications: f.rows, Page: 1, Limit: 20, Total: int64(len(f.rows)), TotalPages: 1}, nil
}

func (f *fakeNotifications) find(id string, userID uint) (*models.Notification, error) {
	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].RecipientID == userID {
			return &f.rows[i], nil
		}
	}
	return nil, services.ErrNotFound
}

func (f *fakeNotifications) FindOne(_ context.Context, id string, userID uint) (*models.Notification, error) {
	return f.find(id, userID)
}

func (f *fakeNotifications) MarkAsRead(_ context.Context, id string, userID uint) (*models.Notification, error) {
	n, err := f.find(id, userID)
	if err != nil {
		return nil, err
	}
	n.Status = models.StatusRead
	return n, nil
}

func (f *fakeNotifications) MarkAllAsRead(context.Context, uint) (int64, error) {
	f.markedAll++
	return 2, nil
}

func (f *fakeNotifications) Update(_ context.Context, id string, userID uint, in services.UpdateInput) (*models.Notification, error) {
	f.lastUpdated = in
	return f.find(id, userID)
}

func (f *fakeNotifications) Remove(_ context.Context, id string, userID uint) error {
	if _, err := f.find(id, userID); err != nil {
		return err
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeNotifications) GetUnreadCount(context.Context, uint) (int64, error) {
	return 3, nil
}

type onlineList []uint

func (o onlineList) ListOnline(context.Context) ([]uint, error) { return o, nil }

func newNotificationServer(api NotificationAPI) *echo.Echo {
	e := echo.New()
	e.Validator = validators.NewValidator()
	g := e.Group("/api/v1", middleware.AuthMiddleware(tokenTable{"alice": 1, "carol": 3}))
	NewNotificationHandler(api, userTable{2: "Bob"}, onlineList{1, 2}, []uint{1}).RegisterNotificationRoutes(g)
	return e
}

func do(e *echo.Echo, method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, stringsReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sampleRows() []models.Notification {
	bob := uint(2)
	return []models.Notification{
		{ID: "n-1", RecipientID: 1, ActorID: &bob, Type: models.TypePostLike, Status: models.StatusUnread, GroupCount: 3, IsGrouped: true},
		{ID: "n-2", RecipientID: 1, Type: models.TypeSystem, Status: models.StatusUnread, GroupCount: 1},
	}
}

func TestNotificationRoutes_RequireAuth(t *testing.T) {
	e := newNotificationServer(&fakeNotifications{})

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/v1/notifications", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/v1/notifications", "mallory", "").Code)
}

func TestGetNotifications_EnrichesActorsAndPaginates(t *testing.T) {
	api := &fakeNotifications{rows: sampleRows()}
	e := newNotificationServer(api)

	rec := do(e, http.MethodGet, "/api/v1/notifications?status=UNREAD&type=POST_LIKE&page=2&limit=5", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, models.StatusUnread, api.lastQuery.Status)
	assert.Equal(t, models.TypePostLike, api.lastQuery.Type)
	assert.Equal(t, 2, api.lastQuery.Page)
	assert.Equal(t, 5, api.lastQuery.Limit)

	body := decode(t, rec)
	items := body["data"].(map[string]any)["notifications"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "n-1", first["id"])
	assert.Equal(t, "Bob", first["actor"].(map[string]any)["name"])
	assert.Nil(t, items[1].(map[string]any)["actor"])

	meta := body["meta"].(map[string]any)
	assert.EqualValues(t, 2, meta["totalItems"])
	assert.Equal(t, false, meta["hasNextPage"])
}

func TestGetNotifications_RejectsDeletedFilter(t *testing.T) {
	e := newNotificationServer(&fakeNotifications{})
	rec := do(e, http.MethodGet, "/api/v1/notifications?status=DELETED", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnreadCount(t *testing.T) {
	e := newNotificationServer(&fakeNotifications{})
	rec := do(e, http.MethodGet, "/api/v1/notifications/unread-count", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"count":3}}`, rec.Body.String())
}

func TestReadAllIsNotAnID(t *testing.T) {
	api := &fakeNotifications{rows: sampleRows()}
	e := newNotificationServer(api)

	rec := do(e, http.MethodPut, "/api/v1/notifications/read-all", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, api.markedAll)
	assert.JSONEq(t, `{"success":true,"data":{"updated":2}}`, rec.Body.String())
}

func TestOtherUsersNotificationIsNotFound(t *testing.T) {
	api := &fakeNotifications{rows: sampleRows()}
	e := newNotificationServer(api)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/notifications/n-1", "carol", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodPut, "/api/v1/notifications/n-1/read", "carol", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodDelete, "/api/v1/notifications/n-1", "carol", "").Code)
	assert.Equal(t, models.StatusUnread, api.rows[0].Status)
	assert.Empty(t, api.removed)
}

func TestMarkAsReadAndRemove(t *testing.T) {
	api := &fakeNotifications{rows: sampleRows()}
	e := newNotificationServer(api)

	rec := do(e, http.MethodPut, "/api/v1/notifications/n-1/read", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READ", decode(t, rec)["data"].(map[string]any)["status"])

	rec = do(e, http.MethodDelete, "/api/v1/notifications/n-2", "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"n-2"}, api.removed)
}

func TestUpdateNotification(t *testing.T) {
	api := &fakeNotifications{rows: sampleRows()}
	e := newNotificationServer(api)

	rec := do(e, http.MethodPatch, "/api/v1/notifications/n-1", "alice", `{"priority":"HIGH","metadata":{"pinned":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, api.lastUpdated.Priority)
	assert.Equal(t, models.PriorityHigh, *api.lastUpdated.Priority)
	assert.Equal(t, true, api.lastUpdated.Metadata["pinned"])

	rec = do(e, http.MethodPatch, "/api/v1/notifications/n-1", "alice", `{"priority":"LOUD"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOnlineUsers(t *testing.T) {
	e := newNotificationServer(&fakeNotifications{})
	rec := do(e, http.MethodGet, "/api/v1/notifications/online", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"users":[1,2],"count":2}}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/api/v1/notifications/online", "carol", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "users")
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/api/v1/notifications/online", "", "").Code)
}

func TestGetOnlineUsers_NoAdminsConfigured(t *testing.T) {
	e := echo.New()
	g := e.Group("/api/v1", middleware.AuthMiddleware(tokenTable{"alice": 1}))
	NewNotificationHandler(&fakeNotifications{}, userTable{}, onlineList{1}, nil).RegisterNotificationRoutes(g)

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/api/v1/notifications/online", "alice", "").Code)
}
