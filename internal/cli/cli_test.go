package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapfill/internal/calendar"
	"gapfill/internal/config"
	"gapfill/internal/domain"
	"gapfill/internal/gather"
	"gapfill/internal/store"
)

var ny = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Wednesday. A 0.01 year horizon covers the sessions of Jan 8 and Jan 9.
var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, ny)

// vendor answers every target with a bar one minute late, except for MSFT.
type vendor struct {
	calls atomic.Int32
}

func (v *vendor) Fetch(_ context.Context, req gather.FetchRequest) ([]domain.Record, error) {
	v.calls.Add(1)
	if req.Symbol == "MSFT" {
		return nil, errors.New("403 forbidden")
	}
	out := make([]domain.Record, len(req.Targets))
	for i, t := range req.Targets {
		out[i] = domain.Record{
			Timestamp: t.Add(time.Minute),
			Value:     domain.PriceObservation(decimal.NewFromInt(int64(100 + i))),
		}
	}
	return out, nil
}

func testApp(f gather.Fetcher) *app {
	return &app{
		now: func() time.Time { return testNow },
		sessions: func(*config.Config) calendar.SessionProvider {
			return calendar.WeekdaySessions{Location: ny}
		},
		fetcher: func(*config.Config, config.DownloadConfig) (gather.Fetcher, error) {
			return f, nil
		},
	}
}

func writeConfig(t *testing.T, dataDir, extra string) string {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "LEDGER_PATH", "LOG_LEVEL", "GAPFILL_CONFIG",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "POLYGON_API_KEY",
	} {
		t.Setenv(k, "")
	}
	content := `
storage:
  data_dir: "` + dataDir + `"
logging:
  level: error
downloads:
  test_prices:
    entry_type: price
    source: alpaca
    calendar: intraday
    store: test_prices.parquet
    symbols: [aapl, MSFT, FB]
    ignored_symbols: [FB]
    years_examined: 0.01
    evaluation_hours: 0.5
    workers: 2
  test_sqlite:
    entry_type: price
    source: alpaca
    calendar: intraday
    backend: sqlite
    store: test_sqlite
    symbols: [AAPL]
    years_examined: 0.01
    evaluation_hours: 0.5
` + extra
	path := filepath.Join(t.TempDir(), "gapfill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand(a)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "gapfill", cmd.Use)

	for _, name := range []string{"download", "gaps", "configs", "history", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	cf := cmd.PersistentFlags().Lookup("config-file")
	require.NotNil(t, cf)
	assert.Equal(t, "f", cf.Shorthand)

	debug := cmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, debug)
	assert.Equal(t, "false", debug.DefValue)

	dl, _, err := cmd.Find([]string{"download"})
	require.NoError(t, err)
	name := dl.Flags().Lookup("config")
	require.NotNil(t, name)
	assert.Equal(t, "c", name.Shorthand)
}

func TestDownloadEndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeConfig(t, dataDir, "")
	v := &vendor{}
	a := testApp(v)

	out, err := execute(t, a, "-f", cfgPath, "--format", "json", "download", "--config", "test_prices")
	require.NoError(t, err, "fetch failures are not fatal")

	var sum downloadSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 3, sum.Symbols)
	assert.Equal(t, 1, sum.Statuses["ok"])
	assert.Equal(t, 1, sum.Statuses["fetch_failed"])
	assert.Equal(t, 1, sum.Statuses["ignored"])
	// Two sessions of 7 timestamps each, for AAPL and MSFT.
	assert.Equal(t, 28, sum.Missing)
	assert.Equal(t, 14, sum.NewRows)
	assert.Equal(t, 0, sum.Unresolved)
	assert.Empty(t, sum.Failed)
	assert.NotEmpty(t, sum.RunID)
	assert.EqualValues(t, 2, v.calls.Load())

	_, err = os.Stat(filepath.Join(dataDir, "test_prices.parquet"))
	require.NoError(t, err)

	ps := store.NewParquetStore(dataDir, ny)
	require.NoError(t, ps.Load(context.Background(), "test_prices.parquet"))
	assert.Equal(t, 14, ps.Filled("AAPL"))
	got, ok := ps.Get("AAPL", time.Date(2024, 1, 8, 9, 30, 0, 0, ny))
	require.True(t, ok)
	assert.Equal(t, "100", got.Price.String())

	// A second run only retries what is still missing.
	out, err = execute(t, a, "-f", cfgPath, "--format", "json", "download", "--config", "test_prices")
	require.NoError(t, err)
	sum = downloadSummary{}
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.Statuses["up_to_date"])
	assert.Equal(t, 0, sum.NewRows)
	assert.Equal(t, 14, sum.Missing)
	assert.EqualValues(t, 3, v.calls.Load())

	out, err = execute(t, a, "-f", cfgPath, "--format", "json", "history")
	require.NoError(t, err)
	var runs []store.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "test_prices", runs[0].Config)
	assert.Equal(t, store.RunOK, runs[0].Status)
	require.Len(t, runs[1].Symbols, 3)
	assert.Equal(t, "AAPL", runs[1].Symbols[0].Symbol)
	assert.Equal(t, "ok", runs[1].Symbols[0].Status)
	assert.Equal(t, 14, runs[1].Symbols[0].NewRows)
}

func TestGapsDoesNotFetch(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeConfig(t, dataDir, "")
	v := &vendor{}

	out, err := execute(t, testApp(v), "-f", cfgPath, "--format", "json", "gaps", "--config", "test_prices")
	require.NoError(t, err)
	assert.EqualValues(t, 0, v.calls.Load())

	var lines []gapLine
	require.NoError(t, json.Unmarshal([]byte(out), &lines))
	require.Len(t, lines, 3)
	assert.Equal(t, "AAPL", lines[0].Symbol)
	assert.Equal(t, 14, lines[0].Missing)
	require.NotNil(t, lines[0].First)
	assert.True(t, lines[0].First.Equal(time.Date(2024, 1, 8, 9, 30, 0, 0, ny)))
	assert.True(t, lines[0].Last.Equal(time.Date(2024, 1, 9, 10, 0, 0, 0, ny)))
	assert.True(t, lines[2].Ignored)

	out, err = execute(t, testApp(v), "-f", cfgPath, "gaps", "--config", "test_prices", "--symbols", "msft")
	require.NoError(t, err)
	assert.Contains(t, out, "MSFT")
	assert.NotContains(t, out, "AAPL")
}

func TestDownloadSQLiteBackend(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := writeConfig(t, dataDir, "")
	a := testApp(&vendor{})

	_, err := execute(t, a, "-f", cfgPath, "download", "--config", "test_sqlite")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dataDir, config.DefaultSQLiteFile))
	require.NoError(t, err)

	out, err := execute(t, a, "-f", cfgPath, "--format", "json", "download", "--config", "test_sqlite")
	require.NoError(t, err)
	var sum downloadSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.Statuses["up_to_date"])
}

func TestDownloadPersistFailureExitsOne(t *testing.T) {
	// A regular file where the data directory should be.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfgPath := writeConfig(t, blocker, `
  fresh:
    entry_type: price
    source: alpaca
    calendar: intraday
    store: fresh.parquet
    symbols: [AAPL]
    use_existing_store: false
    years_examined: 0.01
    evaluation_hours: 0.5
`)

	_, err := execute(t, testApp(&vendor{}), "-f", cfgPath, "download", "--config", "fresh")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 symbol(s) failed")
}

func TestCommandErrorsExitTwo(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "")
	a := testApp(&vendor{})

	_, err := execute(t, a, "-f", cfgPath, "download", "--config", "sp500_equity_financials")
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrUnknownConfig))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, a, "-f", cfgPath, "download")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, a, "-f", filepath.Join(t.TempDir(), "missing.yaml"), "configs")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, a, "-f", cfgPath, "--format", "xml", "configs")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, a, "download", "--no-such-flag")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigsAndVersion(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "")
	a := testApp(&vendor{})

	out, err := execute(t, a, "-f", cfgPath, "configs")
	require.NoError(t, err)
	for _, name := range []string{config.SP500EquityPrices, config.SP500EquityProfiles, "test_prices", "test_sqlite"} {
		assert.Contains(t, out, name)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 5)

	out, err = execute(t, a, "version")
	require.NoError(t, err)
	assert.Equal(t, "gapfill "+Version+"\n", out)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "x")))
	wrapped := WrapExitError(ExitCommandError, "loading", errors.New("boom"))
	assert.Equal(t, "loading: boom", wrapped.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}
