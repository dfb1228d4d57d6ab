package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlpersistence/internal/dialect"
	"github.com/roach88/sqlpersistence/internal/outbox"
	"github.com/roach88/sqlpersistence/internal/settings"
	"github.com/roach88/sqlpersistence/internal/store"
	"github.com/roach88/sqlpersistence/internal/testutil"
)

func TestInspect_Text(t *testing.T) {
	out, err := execute(t, "inspect", ordersDir)
	require.NoError(t, err)

	assert.Contains(t, out, "Module Orders: 2 saga(s)")
	assert.Contains(t, out, "✓ Orders.OrderSaga table=OrderSaga correlation=OrderId(Guid)")
	assert.Contains(t, out, "✓ Orders.ShippingSaga table=Shipping correlation=Customer(String)")
}

func TestInspect_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "inspect", ordersDir)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Orders", resp.Data.Module)
	require.Len(t, resp.Data.Sagas, 2)
	assert.Equal(t, "Orders.OrderSaga", resp.Data.Sagas[0].Name)
	assert.Equal(t, "Orders.OrderSagaData", resp.Data.Sagas[0].StateType)
}

func TestInspect_RejectedSagas(t *testing.T) {
	out, err := execute(t, "inspect", brokenDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 saga(s) rejected")

	assert.Contains(t, out, "✓ Audit.AuditSaga table=AuditSaga correlation=Key(String)")
	assert.Contains(t, out, "✗ [E207] Audit.LoopingSaga")
}

func TestInspect_RejectedSagasJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "inspect", brokenDir)
	require.Error(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "E207", resp.Errors[0].Code)
	assert.Equal(t, "Audit.LoopingSaga", resp.Errors[0].Entity)
}

func TestInspect_MissingDirectory(t *testing.T) {
	out, err := execute(t, "inspect", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E001]")
}

func TestInspect_EmptyDirectory(t *testing.T) {
	out, err := execute(t, "inspect", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no CUE files found")
}

func TestScripts_WritesEveryDialectByDefault(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "scripts", ordersDir, "--out", dir, "--prefix", "Test_")
	require.NoError(t, err)
	assert.Contains(t, out, "40 script(s) written")

	for _, d := range dialect.All {
		assert.FileExists(t, filepath.Join(dir, d.String(), "Sagas", "OrderSaga_Create.sql"))
		assert.FileExists(t, filepath.Join(dir, d.String(), "Sagas", "Shipping_Drop.sql"))
		assert.FileExists(t, filepath.Join(dir, d.String(), "Outbox_Create.sql"))
	}

	create, err := os.ReadFile(filepath.Join(dir, "PostgreSql", "Sagas", "OrderSaga_Create.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(create), `"Test_OrderSaga"`)
}

func TestScripts_ConfigAndFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(config, []byte(`
dialects: [MsSqlServer, Oracle]
table_prefix: FromFile_
produce:
  subscriptions: false
  timeouts: false
`), 0o644))

	out, err := execute(t, "--config", config, "scripts", ordersDir, "--out", dir, "--dialect", "postgres")
	require.NoError(t, err)
	assert.Contains(t, out, "6 script(s) written")

	assert.NoDirExists(t, filepath.Join(dir, "MsSqlServer"))
	assert.NoFileExists(t, filepath.Join(dir, "PostgreSql", "Timeout_Create.sql"))

	create, err := os.ReadFile(filepath.Join(dir, "PostgreSql", "Outbox_Create.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(create), "FromFile_OutboxData")
}

func TestScripts_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "--format", "json", "scripts", brokenDir, "--out", dir, "--dialect", "MySql")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string        `json:"status"`
		Data   ScriptsResult `json:"data"`
		Errors []ErrorDetail `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "E207", resp.Errors[0].Code)

	assert.Contains(t, resp.Data.Files, filepath.Join("MySql", "Sagas", "AuditSaga_Create.sql"))
	assert.FileExists(t, filepath.Join(dir, "MySql", "Outbox_Create.sql"))
}

func TestScripts_InvalidSettings(t *testing.T) {
	_, err := execute(t, "scripts", ordersDir, "--out", t.TempDir(), "--dialect", "db2")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "scripts", ordersDir, "--out", t.TempDir(), "--prefix", "x;drop")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func tableNames(t *testing.T, dsn string) []string {
	t.Helper()
	db, err := store.Open(context.Background(), store.DriverSQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("select name from sqlite_master where type = 'table' order by name")
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestInstall_CreatesAndDropsTables(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "install.db")

	out, err := execute(t, "install", ordersDir, "--dsn", dsn, "--prefix", "Test_")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ saga Orders.OrderSaga installed")
	assert.Contains(t, out, "✓ timeouts installed")
	assert.Equal(t, []string{
		"Test_OrderSaga", "Test_OutboxData", "Test_Shipping", "Test_SubscriptionData", "Test_TimeoutData",
	}, tableNames(t, dsn))

	_, err = execute(t, "install", ordersDir, "--dsn", dsn, "--prefix", "Test_")
	require.NoError(t, err, "install is idempotent")

	out, err = execute(t, "--format", "json", "install", ordersDir, "--dsn", dsn, "--prefix", "Test_", "--drop")
	require.NoError(t, err)
	var resp struct {
		Status string        `json:"status"`
		Data   InstallResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Dropped)
	assert.Equal(t, "timeouts", resp.Data.Scripts[0])
	assert.Empty(t, tableNames(t, dsn))
}

func TestInstall_WithoutSagas(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "install.db")

	_, err := execute(t, "install", "--dsn", dsn, "--endpoint", "Sales Endpoint")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Sales_Endpoint_OutboxData", "Sales_Endpoint_SubscriptionData", "Sales_Endpoint_TimeoutData",
	}, tableNames(t, dsn))
}

func TestInstall_RejectedSagasInstallNothing(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "install.db")

	_, err := execute(t, "install", brokenDir, "--dsn", dsn)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.NoFileExists(t, dsn)
}

func TestInstall_UnsupportedDriver(t *testing.T) {
	out, err := execute(t, "install", "--driver", "oracle", "--dsn", "x")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E303]")
}

func TestCleanup_RemovesExpiredDispatchedRecords(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "cleanup.db")
	_, err := execute(t, "install", "--dsn", dsn, "--prefix", "Test_")
	require.NoError(t, err)

	now := time.Now().UTC()
	clock := testutil.NewManualClock(now.Add(-48 * time.Hour))
	func() {
		db, err := store.Open(ctx, store.DriverSQLite, dsn)
		require.NoError(t, err)
		defer db.Close()

		ps, err := outbox.NewPersister(dialect.MustProfile(dialect.PostgreSql, "Test_", ""),
			outbox.WithClock(clock.Now), outbox.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		require.NoError(t, err)

		for _, id := range []string{"old", "recent", "pending"} {
			require.NoError(t, ps.Store(ctx, db, id, nil))
		}
		require.NoError(t, ps.MarkDispatched(ctx, db, "old"))
		clock.Set(now)
		require.NoError(t, ps.MarkDispatched(ctx, db, "recent"))
	}()

	out, err := execute(t, "cleanup", "--dsn", dsn, "--prefix", "Test_", "--retention", "24h")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 dispatched outbox record(s)")

	remaining := outboxIDs(t, dsn)
	assert.ElementsMatch(t, []string{"recent", "pending"}, remaining)
}

func TestCleanup_MissingTable(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "empty.db")
	out, err := execute(t, "cleanup", "--dsn", dsn)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E304]")
}

func TestCleanup_RejectsNonPositiveFlags(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cleanup.db")
	_, err := execute(t, "install", "--dsn", dsn, "--prefix", "Test_")
	require.NoError(t, err)

	for _, args := range [][]string{
		{"--retention", "0"},
		{"--retention", "-1h"},
		{"--batch-size", "0"},
	} {
		t.Run(strings.Join(args, "="), func(t *testing.T) {
			out, err := execute(t, append([]string{"cleanup", "--dsn", dsn, "--prefix", "Test_"}, args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "[E301]")
			assert.Contains(t, out, "must be positive")
		})
	}
}

func TestCleanup_ReportsCleanerRetention(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cleanup.db")
	_, err := execute(t, "install", "--dsn", dsn, "--prefix", "Test_")
	require.NoError(t, err)

	before := time.Now().UTC()
	out, err := execute(t, "--format", "json", "cleanup", "--dsn", dsn, "--prefix", "Test_")
	require.NoError(t, err)

	var resp struct {
		Data CleanupResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.WithinDuration(t, before.Add(-settings.DefaultRetention), resp.Data.OlderThan, time.Minute)
}

func TestCleanup_DisabledInSettings(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cleanup.db")
	config := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(config, []byte(`
table_prefix: Test_
outbox:
  disable_cleanup: true
`), 0o644))

	out, err := execute(t, "--config", config, "cleanup", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "outbox cleanup is disabled")
}

func outboxIDs(t *testing.T, dsn string) []string {
	t.Helper()
	db, err := sql.Open(store.DriverSQLite, dsn)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`select "MessageId" from "Test_OutboxData"`)
	require.NoError(t, err)
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}
