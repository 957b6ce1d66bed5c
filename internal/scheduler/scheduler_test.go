package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mcs-iot/internal/cache"
	"mcs-iot/internal/metrics"
	"mcs-iot/internal/models"
	"mcs-iot/internal/repository"
	"mcs-iot/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================
// Scheduler
// ============================================

func TestNextOccurrence(t *testing.T) {
	loc := time.Local
	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2026, 10, 15, 1, 30, 0, 0, loc), time.Date(2026, 10, 15, 2, 0, 0, 0, loc)},
		{"already passed", time.Date(2026, 10, 15, 2, 0, 1, 0, loc), time.Date(2026, 10, 16, 2, 0, 0, 0, loc)},
		{"exactly now runs tomorrow", time.Date(2026, 10, 15, 2, 0, 0, 0, loc), time.Date(2026, 10, 16, 2, 0, 0, 0, loc)},
		{"month rollover", time.Date(2026, 10, 31, 23, 0, 0, 0, loc), time.Date(2026, 11, 1, 2, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextOccurrence(tc.now, 2, 0))
		})
	}
}

func TestScheduler_DailyAt_InvalidClock(t *testing.T) {
	s := New(nil, zap.NewNop())

	assert.Error(t, s.DailyAt("archive", "25:00", func(context.Context) error { return nil }))
	assert.Error(t, s.Every("sweep", 0, func(context.Context) error { return nil }))
}

func TestScheduler_Run_RecoversPanic(t *testing.T) {
	m := metrics.New()
	s := New(m, zap.NewNop())
	require.NoError(t, s.Every("boom", time.Hour, func(context.Context) error {
		panic("nil map")
	}))
	require.NoError(t, s.Every("fail", time.Hour, func(context.Context) error {
		return errors.New("db down")
	}))

	err := s.Run(context.Background(), "boom")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	assert.Error(t, s.Run(context.Background(), "fail"))
	assert.Error(t, s.Run(context.Background(), "missing"))
}

func TestScheduler_Every_RunsImmediatelyAndRepeats(t *testing.T) {
	s := New(nil, zap.NewNop())
	var runs int32
	require.NoError(t, s.Every("tick", 20*time.Millisecond, func(context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("first run")
		}
		return nil
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&runs)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs))
}

func TestScheduler_Stop_LetsInFlightRunFinishWrites(t *testing.T) {
	s := New(nil, zap.NewNop())
	started := make(chan struct{})
	release := make(chan struct{})
	var runErr atomic.Value
	require.NoError(t, s.Every("slow", time.Hour, func(ctx context.Context) error {
		close(started)
		<-release
		// 停止期间任务 ctx 仍然可用
		runErr.Store(fmt.Sprint(ctx.Err()))
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	<-started

	// 进程收到信号：先取消上层 ctx，再停止调度器
	cancel()
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight run finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
	assert.Equal(t, "<nil>", runErr.Load())
}

func TestScheduler_Run_AppliesRunTimeout(t *testing.T) {
	s := New(nil, zap.NewNop())
	s.runTimeout = 20 * time.Millisecond
	require.NoError(t, s.Every("stuck", time.Hour, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	err := s.Run(context.Background(), "stuck")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_DailyAt_FiresAtClock(t *testing.T) {
	s := New(nil, zap.NewNop())
	// 固定时钟：距 02:00 还差 30ms
	base := time.Date(2026, 10, 15, 2, 0, 0, 0, time.Local).Add(-30 * time.Millisecond)
	var calls int32
	s.now = func() time.Time {
		if atomic.LoadInt32(&calls) == 0 {
			return base
		}
		return base.Add(time.Hour)
	}
	fired := make(chan struct{}, 1)
	require.NoError(t, s.DailyAt("archive", "02:00", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		fired <- struct{}{}
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("daily task did not fire")
	}
}

func TestScheduler_Metrics(t *testing.T) {
	m := metrics.New()
	s := New(m, zap.NewNop())
	require.NoError(t, s.Every("ok", time.Hour, func(context.Context) error { return nil }))

	require.NoError(t, s.Run(context.Background(), "ok"))

	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "mcs_scheduler_runs_total"))
}

// ============================================
// Tasks
// ============================================

type fakeRaiser struct {
	mu      sync.Mutex
	calls   []string
	ctxErrs []error

	entered chan struct{} // 非空时进入后通知并阻塞到 release
	release chan struct{}
}

func (f *fakeRaiser) RaiseOffline(ctx context.Context, sn string, lastSeen sql.NullTime) *models.AlarmEvent {
	if f.entered != nil {
		close(f.entered)
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sn)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return &models.AlarmEvent{SN: sn, Kind: models.AlarmOffline}
}

type tasksFixture struct {
	mr     *miniredis.Miniredis
	store  *cache.Store
	mock   sqlmock.Sqlmock
	raiser *fakeRaiser
	tasks  *Tasks
	now    time.Time
}

func setupTasks(t *testing.T) *tasksFixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := cache.NewStore(client, zap.NewNop())

	f := &tasksFixture{mr: mr, store: store, mock: mock, raiser: &fakeRaiser{}, now: time.Now().Truncate(time.Second)}
	f.tasks = NewTasks(repository.NewDevicesRepository(db, zap.NewNop()), storage.NewAdapter(db, zap.NewNop()),
		repository.NewMaintenanceRepository(db, zap.NewNop()), store, f.raiser, 90*time.Second, zap.NewNop())
	f.tasks.now = func() time.Time { return f.now }
	return f
}

func statusRows(rows ...[]interface{}) *sqlmock.Rows {
	r := sqlmock.NewRows([]string{"sn", "status", "last_seen"})
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

func TestTasks_OfflineSweep_OneAlarmPerTransition(t *testing.T) {
	f := setupTasks(t)
	ctx := context.Background()
	seen := f.now.Add(-91 * time.Second)

	// GAS001 上行后 91 秒无数据
	require.NoError(t, f.store.RefreshPresence(ctx, "GAS001", 90*time.Second))
	f.mr.FastForward(91 * time.Second)

	f.mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).
		WillReturnRows(statusRows([]interface{}{"GAS001", "online", seen}))
	f.mock.ExpectExec(`UPDATE devices SET status`).
		WithArgs("GAS001", models.DeviceStatusOffline, models.DeviceStatusOnline, f.now.Add(-90*time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, f.tasks.OfflineSweep(ctx))

	// 下一次巡检：数据库已是 offline，不再报警
	f.mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).
		WillReturnRows(statusRows([]interface{}{"GAS001", "offline", seen}))
	require.NoError(t, f.tasks.OfflineSweep(ctx))

	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, []string{"GAS001"}, f.raiser.calls)
	assert.Equal(t, "0", f.mr.HGet(cache.KeyDeviceStats, "online"))
	assert.Equal(t, "1", f.mr.HGet(cache.KeyDeviceStats, "offline"))
	assert.Equal(t, "1", f.mr.HGet(cache.KeyDeviceStats, "total"))
}

func TestTasks_OfflineSweep_BackOnline(t *testing.T) {
	f := setupTasks(t)
	ctx := context.Background()
	require.NoError(t, f.store.RefreshPresence(ctx, "GAS002", 90*time.Second))

	f.mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).
		WillReturnRows(statusRows(
			[]interface{}{"GAS002", "offline", nil},
			[]interface{}{"GAS003", "online", nil},
		))
	f.mock.ExpectExec(`UPDATE devices SET status`).
		WithArgs("GAS002", models.DeviceStatusOnline).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE devices SET status`).
		WithArgs("GAS003", models.DeviceStatusOffline, models.DeviceStatusOnline, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.tasks.OfflineSweep(ctx))

	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, []string{"GAS003"}, f.raiser.calls)
	assert.Equal(t, "1", f.mr.HGet(cache.KeyDeviceStats, "online"))
}

func TestTasks_OfflineSweep_UpdateFailureNoAlarm(t *testing.T) {
	f := setupTasks(t)

	f.mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).
		WillReturnRows(statusRows([]interface{}{"GAS001", "online", nil}))
	f.mock.ExpectExec(`UPDATE devices SET status`).
		WillReturnError(errors.New("lock timeout"))

	require.NoError(t, f.tasks.OfflineSweep(context.Background()))

	assert.Empty(t, f.raiser.calls)
}

func TestTasks_OfflineSweep_SeenDuringSweepNoAlarm(t *testing.T) {
	f := setupTasks(t)

	// 查询时无在线标记，条件更新前设备又上行：last_seen 已刷新，更新 0 行
	f.mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).
		WillReturnRows(statusRows([]interface{}{"GAS001", "online", f.now.Add(-5 * time.Minute)}))
	f.mock.ExpectExec(`UPDATE devices SET status`).
		WithArgs("GAS001", models.DeviceStatusOffline, models.DeviceStatusOnline, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, f.tasks.OfflineSweep(context.Background()))

	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.Empty(t, f.raiser.calls)
}

func TestTasks_OfflineSweep_QueryError(t *testing.T) {
	f := setupTasks(t)

	f.mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).
		WillReturnError(errors.New("connection refused"))

	assert.Error(t, f.tasks.OfflineSweep(context.Background()))
	assert.False(t, f.mr.Exists(cache.KeyDeviceStats))
}

func TestTasks_OfflineSweep_StopDuringRaiseKeepsContext(t *testing.T) {
	f := setupTasks(t)
	f.raiser.entered = make(chan struct{})
	f.raiser.release = make(chan struct{})

	f.mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).
		WillReturnRows(statusRows([]interface{}{"GAS001", "online", nil}))
	f.mock.ExpectExec(`UPDATE devices SET status`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(nil, zap.NewNop())
	require.NoError(t, s.Every(TaskOfflineSweep, time.Hour, f.tasks.OfflineSweep))
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	<-f.raiser.entered

	// 状态已写入，报警进行中时关闭
	cancel()
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	close(f.raiser.release)
	<-stopped

	require.NoError(t, f.mock.ExpectationsWereMet())
	require.Equal(t, []string{"GAS001"}, f.raiser.calls)
	assert.NoError(t, f.raiser.ctxErrs[0])
	assert.Equal(t, "1", f.mr.HGet(cache.KeyDeviceStats, "offline"))
}

func TestTasks_MirrorSync(t *testing.T) {
	f := setupTasks(t)

	f.mock.ExpectQuery(`SELECT sn, name, high_limit`).
		WillReturnRows(sqlmock.NewRows([]string{"sn", "name", "high_limit", "low_limit", "calib_k", "calib_b", "calib_t_comp"}).
			AddRow("GAS001", "Boiler room", 500.0, nil, 1.1, 0.0, 0.2))

	require.NoError(t, f.tasks.MirrorSync(context.Background()))

	assert.Equal(t, "1.1", f.mr.HGet("calib:GAS001", "k"))
	assert.Equal(t, "0.2", f.mr.HGet("calib:GAS001", "t_coef"))
	assert.Equal(t, "500", f.mr.HGet("device:GAS001", "high_limit"))
	assert.Equal(t, "Boiler room", f.mr.HGet("device:GAS001", "name"))
}

func TestTasks_Maintenance(t *testing.T) {
	f := setupTasks(t)

	f.mock.ExpectExec(`VACUUM ANALYZE sensor_data`).WillReturnError(errors.New("canceled"))
	f.mock.ExpectExec(`VACUUM ANALYZE alarm_logs`).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectExec(`VACUUM ANALYZE devices`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := f.tasks.Maintenance(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3")
	require.NoError(t, f.mock.ExpectationsWereMet())
}
