package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"wisefido-attendance/internal/device"
	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLocator 可切换的定位源
type fakeLocator struct {
	mu    sync.Mutex
	coord domain.Coordinate
	err   error
}

func (l *fakeLocator) set(c domain.Coordinate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coord, l.err = c, nil
}

func (l *fakeLocator) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLocator) CurrentPosition(context.Context) (domain.Coordinate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.coord, l.err
}

type fixture struct {
	kv         *store.MemoryKV
	local      *store.LocalStore
	remote     *repository.MemoryRemoteStore
	identity   *device.Identity
	locator    *fakeLocator
	sync       SyncService
	auth       AuthService
	attendance AttendanceService
	hospitals  HospitalService
	transfer   TransferService
}

type fixtureOpts struct {
	withRemote bool
	strict     bool
}

func newFixture(t *testing.T, o fixtureOpts) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		kv:      store.NewMemoryKV(),
		locator: &fakeLocator{},
	}
	f.local = store.NewLocalStore(f.kv)
	f.identity = device.NewIdentity(f.kv)

	var remote repository.RemoteStore
	if o.withRemote {
		f.remote = repository.NewMemoryRemoteStore()
		remote = f.remote
	}
	f.sync = NewSyncService(f.local, remote, SyncOptions{Timeout: time.Second, BackoffMin: 10 * time.Millisecond, BackoffMax: 50 * time.Millisecond}, logger)
	f.auth = NewAuthService(f.local, f.identity, f.sync, NewTokenIssuer("test-secret", time.Hour), SuperAdminCredentials{Username: "root", Password: "root-pass"}, logger)

	opts := AttendanceOptions{GPSTolerance: 15, LocationTimeout: time.Second, StrictDevice: o.strict}
	f.attendance = NewAttendanceService(f.local, f.identity, f.auth, f.sync, f.locator, nil, opts, logger)
	f.hospitals = NewHospitalService(f.local, f.sync, f.locator, opts, logger)
	f.transfer = NewTransferService(f.local, f.sync, logger)
	return f
}

func (f *fixture) deviceID(t *testing.T) string {
	t.Helper()
	id, err := f.identity.GetOrCreate(context.Background())
	require.NoError(t, err)
	return id
}

func (f *fixture) seedHospital(t *testing.T, id string, c domain.Coordinate) domain.Hospital {
	t.Helper()
	h := domain.Hospital{ID: id, Name: "Hospital " + id, LoginUsername: "login-" + id, Coords: c, Radius: 15}
	require.NoError(t, f.sync.SaveHospital(context.Background(), h))
	return h
}

func (f *fixture) seedStaff(t *testing.T, id, hospitalID, pin string) domain.StaffUser {
	t.Helper()
	u := domain.StaffUser{ID: id, Name: "Staff " + id, Role: domain.RoleStaff, HospitalID: hospitalID, Pin: pin}
	require.NoError(t, f.sync.SaveUser(context.Background(), u))
	return u
}

func (f *fixture) user(t *testing.T, id string) domain.StaffUser {
	t.Helper()
	u, ok, err := f.local.Users.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return u
}

// snapshot 三个本地集合的原始存储值
func (f *fixture) snapshot(t *testing.T) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, key := range []string{store.KeyHospitals, store.KeyUsers, store.KeyRecords} {
		v, err := f.kv.Get(context.Background(), key)
		if err != nil {
			v = ""
		}
		out[key] = v
	}
	return out
}

// requireBindingInvariant 同一设备 ID 最多绑定一个员工
func requireBindingInvariant(t *testing.T, f *fixture) {
	t.Helper()
	users, err := f.local.Users.All(context.Background())
	require.NoError(t, err)
	seen := map[string]string{}
	for _, u := range users {
		if u.BoundDeviceID == "" {
			continue
		}
		if other, ok := seen[u.BoundDeviceID]; ok {
			t.Fatalf("device %s bound to both %s and %s", u.BoundDeviceID, other, u.ID)
		}
		seen[u.BoundDeviceID] = u.ID
	}
}
