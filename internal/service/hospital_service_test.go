package service

import (
	"context"
	"testing"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	"wisefido-attendance/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRegisterHospital_RequiresLocation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.locator.fail(geo.ErrNoCapability)

	_, err := f.hospitals.RegisterHospital(context.Background(), RegisterHospitalRequest{
		Name: "General", LoginUsername: "general", LoginPassword: "secret1",
	})
	assert.ErrorIs(t, err, ErrLocationUnavailable)

	all, err := f.hospitals.ListHospitals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRegisterHospital(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.locator.set(hospitalCenter)

	h, err := f.hospitals.RegisterHospital(ctx, RegisterHospitalRequest{
		Name: " General ", LoginUsername: "general", LoginPassword: "secret1", LogViewPassword: "viewer1",
	})
	require.NoError(t, err)
	assert.Equal(t, "General", h.Name)
	assert.Equal(t, domain.DefaultGeofenceRadius, h.Radius)
	assert.Equal(t, hospitalCenter, h.Coords)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h.LoginPassword), []byte("secret1")))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h.LogViewPassword), []byte("viewer1")))

	_, err = f.hospitals.RegisterHospital(ctx, RegisterHospitalRequest{
		Name: "Other", LoginUsername: "GENERAL", LoginPassword: "secret2",
	})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.hospitals.RegisterHospital(ctx, RegisterHospitalRequest{Name: "No login"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdateHospital_PreservesGeofence(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.locator.set(hospitalCenter)
	h, err := f.hospitals.RegisterHospital(ctx, RegisterHospitalRequest{Name: "General", LoginUsername: "general", LoginPassword: "secret1"})
	require.NoError(t, err)

	// 即使当前位置已经变化，修改名称也不改变坐标
	f.locator.set(northOf(hospitalCenter, 1000))
	name := "General Hospital"
	updated, err := f.hospitals.UpdateHospital(ctx, h.ID, UpdateHospitalRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, hospitalCenter, updated.Coords)
	assert.Equal(t, h.Radius, updated.Radius)

	moved, err := f.hospitals.RecaptureGeofence(ctx, h.ID)
	require.NoError(t, err)
	assert.InEpsilon(t, 1000, geo.Distance(hospitalCenter, moved.Coords), 0.01)
}

func TestDeleteHospital_Cascades(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx := context.Background()
	f.seedHospital(t, "h1", hospitalCenter)
	f.seedHospital(t, "h2", hospitalCenter)
	f.seedStaff(t, "u1", "h1", "1111")
	f.seedStaff(t, "u2", "h2", "2222")
	require.NoError(t, f.sync.SaveRecord(ctx, sampleRecord("r1", "u1", "h1", time.Now())))
	require.NoError(t, f.sync.SaveRecord(ctx, sampleRecord("r2", "u2", "h2", time.Now())))

	res, err := f.hospitals.DeleteHospital(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.StaffDeleted)
	assert.Equal(t, 1, res.RecordsDeleted)

	_, err = f.sync.PushPending(ctx)
	require.NoError(t, err)

	for table, want := range map[string]string{
		repository.TableHospitals: "h2",
		repository.TableUsers:     "u2",
		repository.TableRecords:   "r2",
	} {
		rows, err := f.remote.SelectAll(ctx, table)
		require.NoError(t, err)
		require.Len(t, rows, 1, table)
		assert.Equal(t, want, rows[0]["id"])
	}

	_, err = f.hospitals.DeleteHospital(ctx, "h1")
	assert.ErrorIs(t, err, ErrHospitalNotFound)
}

func TestCreateStaff(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.seedHospital(t, "h1", hospitalCenter)

	u, err := f.hospitals.CreateStaff(ctx, CreateStaffRequest{HospitalID: "h1", Name: "Alice", Pin: "1234"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStaff, u.Role)
	assert.NotEmpty(t, u.ID)

	_, err = f.hospitals.CreateStaff(ctx, CreateStaffRequest{HospitalID: "h1", Name: "Bob", Pin: "1234"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.hospitals.CreateStaff(ctx, CreateStaffRequest{HospitalID: "h1", Name: "Carol"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.hospitals.CreateStaff(ctx, CreateStaffRequest{HospitalID: "h1", Name: "Eve", Username: "eve", Role: domain.RoleSuperAdmin})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.hospitals.CreateStaff(ctx, CreateStaffRequest{HospitalID: "missing", Name: "Dan", Username: "dan"})
	assert.ErrorIs(t, err, ErrHospitalNotFound)

	staff, err := f.hospitals.ListStaff(ctx, "h1")
	require.NoError(t, err)
	assert.Len(t, staff, 1)
}

func TestResetDeviceBinding_AllowsNewDevice(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.seedHospital(t, "h1", hospitalCenter)
	u := f.seedStaff(t, "u1", "h1", "1111")
	u.BoundDeviceID = "old-device"
	require.NoError(t, f.sync.SaveUser(ctx, u))

	_, err := f.auth.Authenticate(ctx, AuthRequest{Identifier: "1111"})
	require.ErrorIs(t, err, ErrAccountBoundElsewhere)

	reset, err := f.hospitals.ResetDeviceBinding(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, reset.BoundDeviceID)

	res, err := f.auth.Authenticate(ctx, AuthRequest{Identifier: "1111"})
	require.NoError(t, err)
	assert.Equal(t, f.deviceID(t), res.User.BoundDeviceID)
}

func TestDeleteStaff_KeepsRecords(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	f.seedHospital(t, "h1", hospitalCenter)
	f.seedStaff(t, "u1", "h1", "1111")
	require.NoError(t, f.sync.SaveRecord(ctx, sampleRecord("r1", "u1", "h1", time.Now())))

	require.NoError(t, f.hospitals.DeleteStaff(ctx, "u1"))
	assert.ErrorIs(t, f.hospitals.DeleteStaff(ctx, "u1"), ErrUserNotFound)

	_, ok, err := f.local.Records.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}
