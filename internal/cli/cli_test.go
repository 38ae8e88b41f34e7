package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/blob"
	"github.com/vincentbai/sitetrace-agent/internal/codec"
	"github.com/vincentbai/sitetrace-agent/internal/metrics"
	"github.com/vincentbai/sitetrace-agent/internal/models"
	"github.com/vincentbai/sitetrace-agent/internal/server"
	"github.com/vincentbai/sitetrace-agent/internal/store"
	"github.com/vincentbai/sitetrace-agent/internal/summary"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for key, value := range map[string]string{
		"APP_ENV":                  "production",
		"ANALYTICS_ENCRYPTION_KEY": "cli-test-secret",
		"DATA_DIR":                 dir,
		"STORE_BACKEND":            "file",
		"LOG_LEVEL":                "error",
		"MAIL_DRIVER":              "dev",
		"MAIL_DEV_DIR":             filepath.Join(dir, "mail"),
		"REPORT_RECIPIENT":         "owner@example.com",
		"REPORT_TIMEZONE":          "UTC",
	} {
		t.Setenv(key, value)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}\n$`, out)
}

func TestSummaryEmptyStore(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "summary")
	require.NoError(t, err)

	var s summary.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Zero(t, s.Sessions)
	assert.NotNil(t, s.ScreenSizes)
}

func TestSummaryText(t *testing.T) {
	setupEnv(t)
	appendSession(t, models.Session{
		SessionID:    "a",
		TimeOnScreen: 95,
		ScrollDepth:  70,
		Clicks:       []models.Click{{Target: "A", Text: "Blog"}},
		Sections:     map[string]models.SectionStat{"about": {Time: 61, Enters: 2}},
	})

	out, err := run(t, "summary", "--text")
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions:        1")
	assert.Contains(t, out, "Avg time:        1m 35s")
	assert.Contains(t, out, "about")
	assert.Contains(t, out, "1m 1s, 2 visits")
	assert.Contains(t, out, "A (Blog)")
	assert.NotContains(t, out, "Last saved:", "only the sqlite backend records save times")
}

func TestSummaryTextSqliteLastSaved(t *testing.T) {
	setupEnv(t)
	t.Setenv("STORE_BACKEND", "sqlite")
	appendSession(t, models.Session{SessionID: "a"})

	out, err := run(t, "summary", "--text")
	require.NoError(t, err)
	assert.Contains(t, out, "Last saved:")
}

func TestSeedMetricsCountsStoredSessions(t *testing.T) {
	setupEnv(t)
	appendSession(t, models.Session{SessionID: "a"})
	appendSession(t, models.Session{SessionID: "b"})
	metrics.SessionsStored.Set(0)

	a, err := bootstrap(context.Background(), filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	defer a.close()
	a.seedMetrics(context.Background())

	var m dto.Metric
	require.NoError(t, metrics.SessionsStored.Write(&m))
	assert.Equal(t, 2.0, m.GetGauge().GetValue())
}

func TestServeRejectsBadScheduleBeforeListening(t *testing.T) {
	setupEnv(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	t.Setenv("ANALYTICS_HOST", "127.0.0.1")
	t.Setenv("ANALYTICS_PORT", strconv.Itoa(addr.Port))
	t.Setenv("REPORT_CRON", "every sunday")

	_, err = run(t, "serve", "--with-report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")

	// Nothing was left listening on the collector port.
	l, err = net.Listen("tcp", addr.String())
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestMissingSecretFails(t *testing.T) {
	setupEnv(t)
	t.Setenv("ANALYTICS_ENCRYPTION_KEY", "")
	require.NoError(t, os.Unsetenv("ANALYTICS_ENCRYPTION_KEY"))

	_, err := run(t, "summary")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ANALYTICS_ENCRYPTION_KEY")
}

func appendSession(t *testing.T, s models.Session) {
	t.Helper()
	a, err := bootstrap(context.Background(), filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	defer a.close()
	require.NoError(t, a.store.Append(context.Background(), s))
}

func TestOpenBackends(t *testing.T) {
	dir := setupEnv(t)

	t.Run("sqlite", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "sqlite")
		appendSession(t, models.Session{SessionID: "s"})
		assert.FileExists(t, filepath.Join(dir, "analytics.db"))
	})

	t.Run("file", func(t *testing.T) {
		appendSession(t, models.Session{SessionID: "f"})
		raw, err := os.ReadFile(filepath.Join(dir, "analytics-store.json"))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), `"f"`, "sessions are encrypted at rest")
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Setenv("STORE_BACKEND", "redis")
		t.Setenv("REDIS_URL", "redis://"+mr.Addr())
		t.Setenv("REDIS_KEY", "test:analytics")

		appendSession(t, models.Session{SessionID: "r"})
		assert.True(t, mr.Exists("test:analytics"))
	})

	t.Run("memory", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "memory")
		out, err := run(t, "summary")
		require.NoError(t, err)
		assert.Contains(t, out, `"sessions": 0`)
	})
}

func TestReportOnce(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, "report", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "report skipped")

	appendSession(t, models.Session{SessionID: "a", TimeOnScreen: 30})
	out, err = run(t, "report", "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "report sent to owner@example.com")

	matches, err := filepath.Glob(filepath.Join(dir, "mail", "*.html"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	body, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "Total Sessions: <strong>1</strong>")
}

func TestReplay(t *testing.T) {
	dir := setupEnv(t)

	c, err := codec.New("collector-secret")
	require.NoError(t, err)
	collectorStore := store.New(blob.NewMemory(), c, zap.NewNop())
	srv, err := server.NewServer(collectorStore, zap.NewNop(), nil)
	require.NoError(t, err)
	collector := httptest.NewServer(srv.Handler())
	defer collector.Close()

	log := strings.Join([]string{
		`# recorded on the portfolio home page`,
		`{"kind":"click","at":1760000000000,"x":10,"y":20,"target":"A","text":"Projects"}`,
		`{"kind":"section","at":1760000001000,"section":"projects","ratio":0.8}`,
		`{"kind":"scroll","at":1760000002000,"scrollY":600,"viewport":600,"document":2400}`,
		`{"kind":"visibility","at":1760000010000,"visible":false}`,
		`{"kind":"visibility","at":1760000040000,"visible":true}`,
		`{"kind":"click","at":1760000045000,"target":"BUTTON","text":"Contact"}`,
		`{"kind":"unload","at":1760000050000}`,
	}, "\n")
	events := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(events, []byte(log), 0o600))

	out, err := run(t, "replay", events, "--collector", collector.URL, "--page", "/portfolio", "--screen", "1440x900")
	require.NoError(t, err)
	assert.Contains(t, out, "replayed 7 events")
	assert.Contains(t, out, "20s on screen, 2 clicks, 50% scrolled")

	stored, err := collectorStore.ReadAll(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	// The collector stamps missing end times, so pick the snapshot the
	// tracker ended itself.
	var final *models.Session
	for i := range stored {
		if end := stored[i].EndTime; end != nil && *end == 1760000050000 {
			final = &stored[i]
		}
	}
	require.NotNil(t, final, "final snapshot must reach the collector")
	assert.Equal(t, "/portfolio", final.Page)
	assert.Equal(t, int64(20), final.TimeOnScreen)
	assert.Equal(t, "1440x900", final.DeviceInfo.ScreenSize)
	assert.Equal(t, models.SectionStat{Time: 19, Enters: 1}, final.Sections["projects"])

	assert.FileExists(t, filepath.Join(dir, "tracker-cache.enc"))
}

func TestReplayRejectsBadLog(t *testing.T) {
	setupEnv(t)
	events := filepath.Join(t.TempDir(), "events.jsonl")

	require.NoError(t, os.WriteFile(events, []byte(`{"kind":"click","at":1}`+"\n"+`not json`), 0o600))
	_, err := run(t, "replay", events, "--collector", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	require.NoError(t, os.WriteFile(events, []byte(`{"kind":"hover","at":1}`), 0o600))
	_, err = run(t, "replay", events, "--collector", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event 1")

	require.NoError(t, os.WriteFile(events, nil, 0o600))
	_, err = run(t, "replay", events)
	assert.Error(t, err)
}
