package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"mcs-iot/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// ============================================
// devices
// ============================================

func TestDevicesRepository_UpsertSeen(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDevicesRepository(db, zap.NewNop())
	seenAt := time.Unix(1700000000, 0)

	mock.ExpectExec(`INSERT INTO devices`).
		WithArgs("GAS001", models.DeviceStatusOnline, seenAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpsertSeen(context.Background(), "GAS001", seenAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDevicesRepository_UpsertSeen_Error(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDevicesRepository(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO devices`).
		WillReturnError(errors.New("connection reset"))

	err := repo.UpsertSeen(context.Background(), "GAS001", time.Now())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "GAS001")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDevicesRepository_ListStatuses(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDevicesRepository(db, zap.NewNop())
	seen := time.Unix(1700000000, 0)

	rows := sqlmock.NewRows([]string{"sn", "status", "last_seen"}).
		AddRow("GAS001", "online", seen).
		AddRow("GAS002", "offline", nil).
		AddRow("GAS003", nil, nil)
	mock.ExpectQuery(`SELECT sn, status, last_seen FROM devices`).WillReturnRows(rows)

	devices, err := repo.ListStatuses(context.Background())

	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "GAS001", devices[0].SN)
	assert.Equal(t, "online", devices[0].Status)
	assert.True(t, devices[0].LastSeen.Valid)
	assert.Equal(t, seen, devices[0].LastSeen.Time)
	assert.False(t, devices[1].LastSeen.Valid)
	assert.Equal(t, "", devices[2].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDevicesRepository_SetStatus(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDevicesRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE devices SET status`).
		WithArgs("GAS001", models.DeviceStatusOffline).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetStatus(context.Background(), "GAS001", models.DeviceStatusOffline))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDevicesRepository_MarkOffline(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDevicesRepository(db, zap.NewNop())
	staleBefore := time.Unix(1700000000, 0)

	mock.ExpectExec(`UPDATE devices SET status`).
		WithArgs("GAS001", models.DeviceStatusOffline, models.DeviceStatusOnline, staleBefore).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 期间收到上行，last_seen 已刷新，条件不满足
	mock.ExpectExec(`UPDATE devices SET status`).
		WithArgs("GAS002", models.DeviceStatusOffline, models.DeviceStatusOnline, staleBefore).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE devices SET status`).
		WillReturnError(errors.New("lock timeout"))

	changed, err := repo.MarkOffline(context.Background(), "GAS001", staleBefore)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkOffline(context.Background(), "GAS002", staleBefore)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = repo.MarkOffline(context.Background(), "GAS003", staleBefore)
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDevicesRepository_ListMirrors(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewDevicesRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"sn", "name", "high_limit", "low_limit", "calib_k", "calib_b", "calib_t_comp"}).
		AddRow("GAS001", "Boiler room", 450.0, 5.0, 1.2, 0.5, 0.1).
		AddRow("GAS002", nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT sn, name, high_limit, low_limit, calib_k, calib_b, calib_t_comp`).WillReturnRows(rows)

	mirrors, err := repo.ListMirrors(context.Background())

	require.NoError(t, err)
	require.Len(t, mirrors, 2)
	assert.Equal(t, "Boiler room", mirrors[0].Name)
	assert.Equal(t, sql.NullFloat64{Float64: 450, Valid: true}, mirrors[0].HighLimit)
	assert.Equal(t, models.Coefficients{K: 1.2, B: 0.5, TCoef: 0.1}, mirrors[0].Coefficients)

	assert.Equal(t, "GAS002", mirrors[1].Name)
	assert.False(t, mirrors[1].HighLimit.Valid)
	assert.False(t, mirrors[1].LowLimit.Valid)
	assert.Equal(t, models.IdentityCoefficients(), mirrors[1].Coefficients)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// sensor_data
// ============================================

func TestSensorDataRepository_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSensorDataRepository(db, zap.NewNop())
	r := models.SensorReading{
		Time: time.Unix(1700000000, 0), SN: "GAS001", VRaw: 520, PPM: 520,
		Temp: 24, Humi: 55, Bat: 88, RSSI: -71, ErrCode: 0, Seq: 42,
	}

	mock.ExpectExec(`INSERT INTO sensor_data`).
		WithArgs(r.Time, "GAS001", 520.0, 520.0, 24.0, 55.0, 88, -71, 0, int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSensorDataRepository_ArchivableDays(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSensorDataRepository(db, zap.NewNop())
	cutoff := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	d1 := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT DISTINCT date_trunc`).
		WithArgs(cutoff, 7).
		WillReturnRows(sqlmock.NewRows([]string{"day"}).AddRow(d1).AddRow(d2))

	days, err := repo.ArchivableDays(context.Background(), cutoff, 7)

	require.NoError(t, err)
	assert.Equal(t, []time.Time{d1, d2}, days)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSensorDataRepository_EachInDay(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSensorDataRepository(db, zap.NewNop())
	day := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	t1 := day.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"time", "sn", "v_raw", "ppm", "temp", "humi", "bat", "rssi", "err_code", "seq"}).
		AddRow(t1, "GAS001", 520.0, 520.0, 24.0, 55.0, 88, -71, 0, 42).
		AddRow(t1, "GAS002", 10.0, 12.5, nil, nil, nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT time, sn, v_raw`).
		WithArgs(day, day.AddDate(0, 0, 1)).
		WillReturnRows(rows)

	var got []models.SensorReading
	n, err := repo.EachInDay(context.Background(), day, func(r models.SensorReading) error {
		got = append(got, r)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, -71, got[0].RSSI)
	assert.Equal(t, int64(42), got[0].Seq)
	assert.Equal(t, 12.5, got[1].PPM)
	assert.Equal(t, 0, got[1].Bat)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSensorDataRepository_EachInDay_CallbackError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSensorDataRepository(db, zap.NewNop())
	day := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"time", "sn", "v_raw", "ppm", "temp", "humi", "bat", "rssi", "err_code", "seq"}).
		AddRow(day, "GAS001", 1.0, 1.0, 25.0, 0.0, 100, 0, 0, 1).
		AddRow(day, "GAS002", 1.0, 1.0, 25.0, 0.0, 100, 0, 0, 1)
	mock.ExpectQuery(`SELECT time, sn, v_raw`).WillReturnRows(rows)

	writeErr := errors.New("disk full")
	n, err := repo.EachInDay(context.Background(), day, func(models.SensorReading) error {
		return writeErr
	})

	assert.ErrorIs(t, err, writeErr)
	assert.Equal(t, 0, n)
}

func TestSensorDataRepository_DeleteDay(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSensorDataRepository(db, zap.NewNop())
	day := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM sensor_data`).
		WithArgs(day, day.AddDate(0, 0, 1)).
		WillReturnResult(sqlmock.NewResult(0, 1440))
	mock.ExpectCommit()

	n, err := repo.DeleteDay(context.Background(), day, 1440)

	require.NoError(t, err)
	assert.Equal(t, int64(1440), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSensorDataRepository_DeleteDay_LateRowsRollback(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewSensorDataRepository(db, zap.NewNop())
	day := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)

	// 导出 1440 行后又补传了 2 行
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM sensor_data`).
		WithArgs(day, day.AddDate(0, 0, 1)).
		WillReturnResult(sqlmock.NewResult(0, 1442))
	mock.ExpectRollback()

	n, err := repo.DeleteDay(context.Background(), day, 1440)

	assert.ErrorIs(t, err, ErrRowCountMismatch)
	assert.Equal(t, int64(1442), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// alarm_logs
// ============================================

func TestAlarmLogsRepository_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAlarmLogsRepository(db, zap.NewNop())
	event := &models.AlarmEvent{
		SN:          "GAS001",
		Kind:        models.AlarmHigh,
		Value:       1200,
		Threshold:   1000,
		TriggeredAt: time.Unix(1700000000, 0),
		Notified:    true,
	}

	mock.ExpectQuery(`INSERT INTO alarm_logs`).
		WithArgs("GAS001", "HIGH", 1200.0, 1000.0, event.TriggeredAt, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(17)))

	id, err := repo.Insert(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.Equal(t, int64(17), event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

// ============================================
// maintenance
// ============================================

func TestMaintenanceRepository_Vacuum_ContinuesAfterFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewMaintenanceRepository(db, zap.NewNop())

	mock.ExpectExec(`VACUUM ANALYZE sensor_data`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`VACUUM ANALYZE alarm_logs`).WillReturnError(errors.New("lock timeout"))
	mock.ExpectExec(`VACUUM ANALYZE devices`).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Equal(t, 2, repo.Vacuum(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
