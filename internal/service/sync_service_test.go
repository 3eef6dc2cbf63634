package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleRecord(id, userID, hospitalID string, checkIn time.Time) domain.AttendanceRecord {
	return domain.AttendanceRecord{
		ID:              id,
		UserID:          userID,
		UserName:        "Staff " + userID,
		HospitalID:      hospitalID,
		HospitalName:    "Hospital " + hospitalID,
		CheckInTime:     checkIn,
		CheckInCoords:   hospitalCenter,
		CheckInDeviceID: "dev-1",
	}
}

func TestPullAndReconcile_NoRemote(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	res := f.sync.PullAndReconcile(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, msgNoRemote, res.Message)
}

func TestPullAndReconcile_Offline(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	f.seedHospital(t, "h1", hospitalCenter)
	before := f.snapshot(t)

	f.remote.SetOffline(true)
	res := f.sync.PullAndReconcile(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, msgOffline, res.Message)
	assert.Equal(t, before, f.snapshot(t))
}

func TestPullAndReconcile_BootstrapSeedsEmptyRemote(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx := context.Background()

	// 直接写本地（不经过 outbox），模拟远端配置前已有的数据
	require.NoError(t, f.local.Hospitals.Upsert(ctx, domain.Hospital{ID: "h1", Name: "General", Coords: hospitalCenter, Radius: 15}))
	require.NoError(t, f.local.Users.Upsert(ctx, domain.StaffUser{ID: "u1", Name: "A", Role: domain.RoleStaff, HospitalID: "h1", Pin: "1"}))
	require.NoError(t, f.local.Records.Upsert(ctx, sampleRecord("r1", "u1", "h1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))))
	before := f.snapshot(t)

	res := f.sync.PullAndReconcile(ctx)
	require.True(t, res.Success, res.Message)
	for _, c := range res.Collections {
		assert.Equal(t, ActionSeeded, c.Action, c.Table)
		assert.Equal(t, 1, c.Count)
	}

	for _, table := range []string{repository.TableHospitals, repository.TableUsers, repository.TableRecords} {
		rows, err := f.remote.SelectAll(ctx, table)
		require.NoError(t, err)
		assert.Len(t, rows, 1, table)
	}
	assert.Equal(t, before, f.snapshot(t))
}

func TestPullAndReconcile_RemoteOverwritesLocal(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx := context.Background()

	require.NoError(t, f.local.Users.Upsert(ctx, domain.StaffUser{ID: "local-only", Name: "L", Role: domain.RoleStaff, HospitalID: "h1"}))
	require.NoError(t, f.remote.Upsert(ctx, repository.TableUsers,
		repository.UserToRow(domain.StaffUser{ID: "u9", Name: "Remote", Role: domain.RoleStaff, HospitalID: "h1", BoundDeviceID: "dev-9"})))

	res := f.sync.PullAndReconcile(ctx)
	require.True(t, res.Success, res.Message)

	users, err := f.local.Users.All(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u9", users[0].ID)
	assert.Equal(t, "dev-9", users[0].BoundDeviceID)
}

func TestPullAndReconcile_Idempotent(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx := context.Background()
	f.seedHospital(t, "h1", hospitalCenter)
	f.seedStaff(t, "u1", "h1", "1111")
	f.seedStaff(t, "u2", "h1", "2222")
	out := time.Date(2024, 3, 1, 17, 0, 0, 123456789, time.UTC)
	rec := sampleRecord("r1", "u1", "h1", time.Date(2024, 3, 1, 8, 0, 0, 987654321, time.UTC))
	rec.CheckOutTime = &out
	require.NoError(t, f.sync.SaveRecord(ctx, rec))
	require.NoError(t, f.sync.SaveRecord(ctx, sampleRecord("r0", "u2", "h1", time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC))))

	first := f.sync.PullAndReconcile(ctx)
	require.True(t, first.Success, first.Message)
	after1 := f.snapshot(t)

	second := f.sync.PullAndReconcile(ctx)
	require.True(t, second.Success, second.Message)
	assert.Equal(t, after1, f.snapshot(t))
	for _, c := range second.Collections {
		assert.Equal(t, ActionPulled, c.Action, c.Table)
	}
}

func TestPullAndReconcile_PendingCollectionLeftUntouched(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx := context.Background()

	require.NoError(t, f.remote.Upsert(ctx, repository.TableHospitals,
		repository.HospitalToRow(domain.Hospital{ID: "h-remote", Name: "Remote", Coords: hospitalCenter, Radius: 15})))

	f.remote.SetFailWrites(true)
	f.seedHospital(t, "h-local", hospitalCenter)

	res := f.sync.PullAndReconcile(ctx)
	require.True(t, res.Success, res.Message)
	require.Equal(t, repository.TableHospitals, res.Collections[0].Table)
	assert.Equal(t, ActionSkipped, res.Collections[0].Action)

	hospitals, err := f.local.Hospitals.All(ctx)
	require.NoError(t, err)
	require.Len(t, hospitals, 1)
	assert.Equal(t, "h-local", hospitals[0].ID)

	// 恢复后推送，再拉取得到两条
	f.remote.SetFailWrites(false)
	res = f.sync.PullAndReconcile(ctx)
	require.True(t, res.Success, res.Message)
	hospitals, err = f.local.Hospitals.All(ctx)
	require.NoError(t, err)
	assert.Len(t, hospitals, 2)
}

func TestSave_LocalFirstWhenRemoteDown(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx := context.Background()
	f.remote.SetOffline(true)

	require.NoError(t, f.sync.SaveRecord(ctx, sampleRecord("r1", "u1", "h1", time.Now())))
	_, ok, err := f.local.Records.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.sync.PushPending(ctx)
	assert.ErrorIs(t, err, repository.ErrRemoteUnreachable)
	assert.Equal(t, 1, f.sync.Status(ctx).PendingOps)

	f.remote.SetOffline(false)
	n, err := f.sync.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rows, err := f.remote.SelectAll(ctx, repository.TableRecords)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPushPending_PreservesOrder(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx := context.Background()

	u := f.seedStaff(t, "u1", "h1", "1111")
	u.Name = "Renamed"
	require.NoError(t, f.sync.SaveUser(ctx, u))
	require.NoError(t, f.sync.DeleteUser(ctx, "u1"))
	f.seedStaff(t, "u2", "h1", "2222")

	n, err := f.sync.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rows, err := f.remote.SelectAll(ctx, repository.TableUsers)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u2", rows[0]["id"])
}

func TestRunPusher_DrainsOutbox(t *testing.T) {
	f := newFixture(t, fixtureOpts{withRemote: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.sync.RunPusher(ctx)
	f.seedHospital(t, "h1", hospitalCenter)

	assert.Eventually(t, func() bool {
		rows, err := f.remote.SelectAll(context.Background(), repository.TableHospitals)
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLocalOnly_NoOutbox(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.seedHospital(t, "h1", hospitalCenter)
	entries, err := f.local.Outbox.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, f.sync.Status(context.Background()).RemoteConfigured)
}

// 远端在整个会话期间不可达：本地写入仍需进入 outbox，恢复后不能被远端快照覆盖
func TestPullAndReconcile_OfflineSessionSurvivesNonEmptyRemote(t *testing.T) {
	f, u, h := setupAttendance(t, fixtureOpts{withRemote: true})
	ctx := context.Background()
	_, err := f.sync.PushPending(ctx)
	require.NoError(t, err)

	// 另一台设备已写入远端
	other := sampleRecord("r-other", "u2", "h1", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, f.remote.Upsert(ctx, repository.TableRecords, repository.RecordToRow(other)))

	f.remote.SetOffline(true)
	f.locator.set(hospitalCenter)
	rec, err := f.attendance.CheckIn(ctx, u, h)
	require.NoError(t, err)

	res := f.sync.PullAndReconcile(ctx)
	assert.Equal(t, msgOffline, res.Message)

	f.remote.SetOffline(false)
	res = f.sync.PullAndReconcile(ctx)
	require.True(t, res.Success, res.Message)

	_, ok, err := f.local.Records.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok, "offline check-in must survive the pull")
	_, ok, err = f.local.Records.Get(ctx, "r-other")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, f.deviceID(t), f.user(t, "u1").BoundDeviceID)
}

// rejectingRemote 远端拒绝指定 id 的行（模拟约束冲突）
type rejectingRemote struct {
	*repository.MemoryRemoteStore
	rejectID string
}

func (r *rejectingRemote) Upsert(ctx context.Context, table string, row repository.Row) error {
	if row["id"] == r.rejectID {
		return fmt.Errorf("failed to upsert %s: %w", table, repository.ErrRowRejected)
	}
	return r.MemoryRemoteStore.Upsert(ctx, table, row)
}

func TestPushPending_DropsRejectedRow(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	remote := &rejectingRemote{MemoryRemoteStore: repository.NewMemoryRemoteStore(), rejectID: "bad"}
	svc := NewSyncService(f.local, remote, SyncOptions{Timeout: time.Second}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.SaveUser(ctx, domain.StaffUser{ID: "bad", Role: domain.RoleStaff, HospitalID: "h1"}))
	require.NoError(t, svc.SaveUser(ctx, domain.StaffUser{ID: "u1", Name: "A", Role: domain.RoleStaff, HospitalID: "h1"}))

	n, err := svc.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, svc.Status(ctx).PendingOps)

	rows, err := remote.SelectAll(ctx, repository.TableUsers)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0]["id"])
}
