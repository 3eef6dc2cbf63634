package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wisefido-attendance/internal/device"
	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/service"
	"wisefido-attendance/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var center = domain.Coordinate{Latitude: 40.0, Longitude: -75.0}

type apiFixture struct {
	router *Router
	sync   service.SyncService
	local  *store.LocalStore
}

func setupRouter(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()
	kv := store.NewMemoryKV()
	local := store.NewLocalStore(kv)
	identity := device.NewIdentity(kv)
	locator := geo.ContextLocator{}

	syncSvc := service.NewSyncService(local, nil, service.SyncOptions{Timeout: time.Second}, logger)
	authSvc := service.NewAuthService(local, identity, syncSvc, service.NewTokenIssuer("api-secret", time.Hour),
		service.SuperAdminCredentials{Username: "root", Password: "root-pass"}, logger)
	opts := service.AttendanceOptions{GPSTolerance: 15, LocationTimeout: time.Second}
	attendance := service.NewAttendanceService(local, identity, authSvc, syncSvc, locator, nil, opts, logger)
	hospitals := service.NewHospitalService(local, syncSvc, locator, opts, logger)
	transfer := service.NewTransferService(local, syncSvc, logger)
	reports, err := service.NewReportService(local, nil, service.ReportPolicy{Location: time.UTC, LateAfter: "08:05", EarlyBefore: "17:00"}, logger)
	require.NoError(t, err)

	router := NewRouter(NewAuthenticator(authSvc, logger), logger)
	router.RegisterAuthRoutes(NewAuthHandler(authSvc, logger))
	router.RegisterAttendanceRoutes(NewAttendanceHandler(attendance, logger))
	router.RegisterSyncRoutes(NewSyncHandler(syncSvc, logger))
	router.RegisterTransferRoutes(NewTransferHandler(transfer, logger))
	router.RegisterAdminRoutes(NewAdminHandler(hospitals, logger))
	router.RegisterReportRoutes(NewReportHandler(reports, time.UTC, logger))
	router.RegisterDeviceRoutes(NewDeviceHandler(identity, logger))
	router.RegisterHealthRoutes()

	return &apiFixture{router: router, sync: syncSvc, local: local}
}

func (f *apiFixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	adminHash, err := service.HashPassword("admin-pass")
	require.NoError(t, err)
	viewHash, err := service.HashPassword("view-pass")
	require.NoError(t, err)
	for _, h := range []domain.Hospital{
		{ID: "h1", Name: "General", LoginUsername: "general", LoginPassword: adminHash, LogViewPassword: viewHash, Coords: center, Radius: 15},
		{ID: "h2", Name: "Other", LoginUsername: "other", LoginPassword: adminHash, Coords: center, Radius: 15},
	} {
		require.NoError(t, f.sync.SaveHospital(ctx, h))
	}
	require.NoError(t, f.sync.SaveUser(ctx, domain.StaffUser{ID: "u1", Name: "Alice", Role: domain.RoleStaff, HospitalID: "h1", Pin: "1111"}))
	require.NoError(t, f.sync.SaveUser(ctx, domain.StaffUser{ID: "u2", Name: "Bob", Role: domain.RoleStaff, HospitalID: "h1", Pin: "2222"}))
	require.NoError(t, f.sync.SaveUser(ctx, domain.StaffUser{ID: "u9", Name: "Zed", Role: domain.RoleStaff, HospitalID: "h2", Pin: "9999"}))
}

type envelope struct {
	Code        int             `json:"code"`
	Type        string          `json:"type"`
	Message     string          `json:"message"`
	Remediation string          `json:"remediation"`
	Result      json.RawMessage `json:"result"`
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (f *apiFixture) login(t *testing.T, path string, body any) string {
	t.Helper()
	rec, env := f.do(t, http.MethodPost, path, "", body)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var res service.AuthResult
	require.NoError(t, json.Unmarshal(env.Result, &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func (f *apiFixture) staffToken(t *testing.T, pin string) string {
	return f.login(t, "/auth/api/v1/login", map[string]string{"identifier": pin})
}

func (f *apiFixture) adminToken(t *testing.T, username, password string) string {
	return f.login(t, "/auth/api/v1/hospital-login", map[string]string{"username": username, "password": password})
}

func TestHealthAndDeviceIdentity(t *testing.T) {
	f := setupRouter(t)

	rec, env := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, env.Code)

	rec, env = f.do(t, http.MethodGet, "/device/api/v1/identity", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info deviceInfo
	require.NoError(t, json.Unmarshal(env.Result, &info))
	assert.NotEmpty(t, info.DeviceID)
	assert.Equal(t, domain.DeviceSuffix(info.DeviceID), info.Suffix)

	rec, _ = f.do(t, http.MethodPost, "/device/api/v1/identity", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLogin_SharedPinNeedsHospital(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	require.NoError(t, f.sync.SaveUser(context.Background(), domain.StaffUser{ID: "u8", Name: "Yan", Role: domain.RoleStaff, HospitalID: "h2", Pin: "1111"}))

	rec, env := f.do(t, http.MethodPost, "/auth/api/v1/login", "", map[string]string{"identifier": "1111"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, service.Remediation(service.ErrAmbiguousAccount), env.Remediation)

	f.login(t, "/auth/api/v1/login", map[string]string{"hospitalId": "h2", "identifier": "1111"})
}

func TestLogin_DeviceOwnedByOther(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	f.staffToken(t, "1111")

	rec, env := f.do(t, http.MethodPost, "/auth/api/v1/login", "", map[string]string{"identifier": "2222"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, ResultError, env.Code)
	assert.Equal(t, service.Remediation(service.ErrDeviceOwnedByOther), env.Remediation)

	rec, _ = f.do(t, http.MethodPost, "/auth/api/v1/login", "", map[string]string{"identifier": "0000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/auth/api/v1/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckInCheckOutFlow(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	token := f.staffToken(t, "1111")

	rec, env := f.do(t, http.MethodPost, "/attendance/api/v1/check-in", token, LocationReport{Location: &center})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var record domain.AttendanceRecord
	require.NoError(t, json.Unmarshal(env.Result, &record))
	assert.Equal(t, "u1", record.UserID)
	assert.False(t, record.Flagged)

	rec, env = f.do(t, http.MethodPost, "/attendance/api/v1/check-in", token, LocationReport{Location: &center})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, env.Remediation)

	rec, env = f.do(t, http.MethodGet, "/attendance/api/v1/open", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open domain.AttendanceRecord
	require.NoError(t, json.Unmarshal(env.Result, &open))
	assert.Equal(t, record.ID, open.ID)

	// 签退时定位失败：降级成功
	rec, env = f.do(t, http.MethodPost, "/attendance/api/v1/check-out", token, LocationReport{LocationError: "timeout"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "warning", env.Type)
	var out service.CheckOutResult
	require.NoError(t, json.Unmarshal(env.Result, &out))
	assert.NotNil(t, out.Record.CheckOutTime)
	assert.Nil(t, out.Record.CheckOutCoords)

	rec, env = f.do(t, http.MethodGet, "/attendance/api/v1/open", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(env.Result))

	rec, _ = f.do(t, http.MethodPost, "/attendance/api/v1/check-out", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckIn_LocationDenied(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	token := f.staffToken(t, "1111")

	rec, env := f.do(t, http.MethodPost, "/attendance/api/v1/check-in", token, LocationReport{LocationError: "permission denied"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, service.Remediation(service.ErrLocationUnavailable), env.Remediation)

	all, err := f.local.Records.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestProtectedRoutes(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	staff := f.staffToken(t, "1111")

	rec, env := f.do(t, http.MethodGet, "/admin/api/v1/hospitals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ResultTokenExpired, env.Code)

	rec, _ = f.do(t, http.MethodGet, "/admin/api/v1/hospitals", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/admin/api/v1/hospitals", staff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/report/api/v1/records", staff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/transfer/api/v1/batch", staff, map[string]string{"payload": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_HospitalScope(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	admin := f.adminToken(t, "general", "admin-pass")

	rec, env := f.do(t, http.MethodGet, "/admin/api/v1/hospitals", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Hospital
	require.NoError(t, json.Unmarshal(env.Result, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "h1", list[0].ID)
	assert.Empty(t, list[0].LoginPassword)

	rec, _ = f.do(t, http.MethodGet, "/admin/api/v1/hospitals/h2", admin, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/admin/api/v1/staff/u9/reset-device", admin, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/admin/api/v1/hospitals/h1", admin, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 新建员工默认落在本院
	rec, env = f.do(t, http.MethodPost, "/admin/api/v1/staff", admin, map[string]string{"name": "Carol", "pin": "3333"})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var u domain.StaffUser
	require.NoError(t, json.Unmarshal(env.Result, &u))
	assert.Equal(t, "h1", u.HospitalID)

	rec, _ = f.do(t, http.MethodPost, "/admin/api/v1/staff", admin, map[string]string{"name": "Dup", "pin": "3333"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSuperAdmin_RegisterAndDeleteHospital(t *testing.T) {
	f := setupRouter(t)
	root := f.adminToken(t, "root", "root-pass")

	body := map[string]any{
		"name": "North", "loginUsername": "north", "loginPassword": "secret1",
		"location": center,
	}
	rec, env := f.do(t, http.MethodPost, "/admin/api/v1/hospitals", root, body)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var h domain.Hospital
	require.NoError(t, json.Unmarshal(env.Result, &h))
	assert.Equal(t, center, h.Coords)
	assert.Equal(t, domain.DefaultGeofenceRadius, h.Radius)
	assert.Empty(t, h.LoginPassword)

	// 未上报定位：注册失败
	delete(body, "location")
	body["loginUsername"] = "north-2"
	rec, _ = f.do(t, http.MethodPost, "/admin/api/v1/hospitals", root, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, env = f.do(t, http.MethodDelete, "/admin/api/v1/hospitals/"+h.ID, root, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	rec, _ = f.do(t, http.MethodGet, "/admin/api/v1/hospitals/"+h.ID, root, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransfer_CorruptImport(t *testing.T) {
	f := setupRouter(t)
	root := f.adminToken(t, "root", "root-pass")

	rec, env := f.do(t, http.MethodPost, "/transfer/api/v1/batch", root, map[string]string{"payload": "eyJmb28iOiAxfQ"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.Remediation(service.ErrCorruptPayload), env.Remediation)
}

func TestTransfer_ConfigRoundTrip(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	root := f.adminToken(t, "root", "root-pass")

	rec, env := f.do(t, http.MethodGet, "/transfer/api/v1/config?hospitalId=h1", root, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var payload transferPayload
	require.NoError(t, json.Unmarshal(env.Result, &payload))

	dst := setupRouter(t)
	rootDst := dst.adminToken(t, "root", "root-pass")
	rec, env = dst.do(t, http.MethodPost, "/transfer/api/v1/config", rootDst, payload)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var res service.ConfigImportResult
	require.NoError(t, json.Unmarshal(env.Result, &res))
	assert.Equal(t, "h1", res.HospitalID)
	assert.Equal(t, 2, res.StaffCount)
}

func TestReports(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	ctx := context.Background()
	late := domain.AttendanceRecord{ID: "r1", UserID: "u1", HospitalID: "h1", CheckInTime: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), CheckInCoords: center}
	other := domain.AttendanceRecord{ID: "r2", UserID: "u9", HospitalID: "h2", CheckInTime: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), CheckInCoords: center}
	require.NoError(t, f.sync.SaveRecord(ctx, late))
	require.NoError(t, f.sync.SaveRecord(ctx, other))

	viewer := f.adminToken(t, "general", "view-pass")
	rec, env := f.do(t, http.MethodGet, "/report/api/v1/records?from=2024-03-01&to=2024-03-01", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var records []service.AnnotatedRecord
	require.NoError(t, json.Unmarshal(env.Result, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
	assert.True(t, records[0].Late)

	rec, _ = f.do(t, http.MethodGet, "/report/api/v1/records?hospitalId=h2", viewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/report/api/v1/records?from=yesterday", viewer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/report/api/v1/export", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotEmpty(t, rec.Body.Bytes())

	rec, env = f.do(t, http.MethodGet, "/report/api/v1/summary", viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Result), service.SummaryNotConfigured)
}

func TestSync_LocalOnly(t *testing.T) {
	f := setupRouter(t)
	f.seed(t)
	token := f.staffToken(t, "1111")

	rec, env := f.do(t, http.MethodPost, "/sync/api/v1/pull", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ResultSuccess, env.Code)

	rec, env = f.do(t, http.MethodGet, "/sync/api/v1/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st service.SyncStatus
	require.NoError(t, json.Unmarshal(env.Result, &st))
	assert.False(t, st.RemoteConfigured)
}
