package config

// Default values for optional configuration fields.
const (
	DefaultPath            = "config/gapfill.yaml"
	DefaultDataDir         = "data"
	DefaultSQLiteFile      = "datasets.db"
	DefaultLedgerFile      = "gapfill.db"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultAlpacaBaseURL   = "https://api.alpaca.markets"
	DefaultAlpacaFeed      = "sip"
	DefaultBackend         = "parquet"
	DefaultYearsExamined   = 5
	DefaultExchange        = "NYSE"
	DefaultTimezone        = "America/New_York"
	DefaultSessionStart    = "09:30:00"
	DefaultEvaluationHours = 6.5
	DefaultRecordFrequency = 12
	DefaultResolveWindow   = 4
	DefaultWorkers         = 4
	DefaultRateLimitPerMin = 200
	DefaultMaxRetries      = 3
	DefaultFetchChunkDays  = 30
)

// Names of the built-in download configurations.
const (
	SP500EquityPrices   = "sp500_equity_prices"
	SP500EquityProfiles = "sp500_equity_profiles"
)

// SP500IgnoredSymbols lists S&P 500 tickers that were renamed, delisted or
// spun off during the examined years and cannot be backfilled.
var SP500IgnoredSymbols = []string{
	"ANTM", "BLL", "CERN", "CTXS", "DISCA", "DISCK", "FB", "INFO", "KSU",
	"PBCT", "VIAC", "WLTW", "XLNX", "DRE", "AOS", "OGN", "PENN", "PM",
	"PRU", "PHM", "CARR", "HWM", "OTIS", "TWTR", "VTRS", "ABMD",
}

// SP500IgnoredDates lists NYSE half-day and disrupted sessions whose
// afternoon grid never fills.
var SP500IgnoredDates = []string{
	"2017-11-24",
	"2018-07-03", "2018-11-23", "2018-12-24",
	"2019-07-03", "2019-11-29", "2019-12-24",
	"2020-11-27", "2020-12-24",
	"2021-11-26",
	"2022-02-24", "2022-11-25",
}

// Builtins returns fresh copies of the built-in download configurations.
func Builtins() map[string]DownloadConfig {
	return map[string]DownloadConfig{
		SP500EquityPrices: {
			EntryType:      "price",
			Source:         "alpaca",
			Calendar:       "intraday",
			Store:          "sp500_equity_prices.parquet",
			SymbolsCSV:     "sp500_symbols.csv",
			IgnoredSymbols: append([]string(nil), SP500IgnoredSymbols...),
			IgnoredDates:   append([]string(nil), SP500IgnoredDates...),
		},
		SP500EquityProfiles: {
			EntryType:      "profile",
			Source:         "polygon",
			Calendar:       "quarterly",
			Store:          "sp500_equity_profiles.parquet",
			SymbolsCSV:     "sp500_symbols.csv",
			IgnoredSymbols: append([]string(nil), SP500IgnoredSymbols...),
			IgnoredDates:   append([]string(nil), SP500IgnoredDates...),
			// Polygon's free tier allows 5 requests per minute.
			RateLimitPerMin: 5,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = DefaultSQLiteFile
	}
	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = DefaultLedgerFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = DefaultAlpacaBaseURL
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = DefaultAlpacaFeed
	}

	for name, d := range c.Downloads {
		d.applyDefaults()
		c.Downloads[name] = d
	}
}

func (d *DownloadConfig) applyDefaults() {
	if d.Backend == "" {
		d.Backend = DefaultBackend
	}
	if d.YearsExamined == 0 {
		d.YearsExamined = DefaultYearsExamined
	}
	if d.Exchange == "" {
		d.Exchange = DefaultExchange
	}
	if d.Timezone == "" {
		d.Timezone = DefaultTimezone
	}
	if d.SessionStart == "" {
		d.SessionStart = DefaultSessionStart
	}
	if d.EvaluationHours == 0 {
		d.EvaluationHours = DefaultEvaluationHours
	}
	if d.RecordFrequency == 0 {
		d.RecordFrequency = DefaultRecordFrequency
	}
	if d.ResolveWindow == nil {
		w := DefaultResolveWindow
		d.ResolveWindow = &w
	}
	if d.Workers == 0 {
		d.Workers = DefaultWorkers
	}
	if d.RateLimitPerMin == 0 {
		d.RateLimitPerMin = DefaultRateLimitPerMin
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	if d.FetchChunkDays == 0 {
		d.FetchChunkDays = DefaultFetchChunkDays
	}
}
