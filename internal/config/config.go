package config

const (
	// BinanceFuturesWebsocketURL is the binance USD-M futures websocket url.
	BinanceFuturesWebsocketURL = "wss://fstream.binance.com/ws"
	// BinanceFuturesRESTBaseURL is the binance USD-M futures base REST url.
	BinanceFuturesRESTBaseURL = "https://fapi.binance.com/fapi/v1/"
	// BinanceFuturesRESTV2BaseURL is the binance USD-M futures v2 base REST url.
	BinanceFuturesRESTV2BaseURL = "https://fapi.binance.com/fapi/v2/"

	// CoinexFuturesWebsocketURL is the coinex futures websocket url.
	CoinexFuturesWebsocketURL = "wss://socket.coinex.com/v2/futures"
	// CoinexFuturesRESTBaseURL is the coinex futures base REST url.
	CoinexFuturesRESTBaseURL = "https://api.coinex.com/v2/futures/"
)

// Config contains config values for the app.
// Struct values are loaded from user defined JSON config file.
type Config struct {
	Exchanges  []Exchange `json:"exchanges"`
	Symbols    Symbols    `json:"symbols"`
	Connection Connection `json:"connection"`
	Reconcile  Reconcile  `json:"reconcile"`
	Log        Log        `json:"log"`
}

// Exchange contains config values for one venue feed.
type Exchange struct {
	Name      string    `json:"name"`
	Storages  []string  `json:"storages"`
	Reconnect Reconnect `json:"reconnect"`
	Auth      Auth      `json:"auth"`
}

// Reconnect contains config values for the connection resilience manager.
type Reconnect struct {
	DelayMilli int `json:"delay_milli"`

	// MaxRetries bounds consecutive failed reconnect attempts.
	// Zero means retry indefinitely.
	MaxRetries int `json:"max_retries"`
}

// Auth contains venue api credentials for the signed websocket handshake.
// Empty values fall back to COINEX_ACCESS_ID / COINEX_SIGNED_STR
// environment variables.
type Auth struct {
	AccessID  string `json:"access_id"`
	SignedStr string `json:"signed_str"`
}

// Symbols contains config values for the symbol universe source.
// The static list is used as is when CatalogURL is empty, otherwise the
// list is fetched from the catalog service and refreshed periodically.
type Symbols struct {
	Static        []string `json:"static"`
	CatalogURL    string   `json:"catalog_url"`
	RefreshIntSec int      `json:"refresh_interval_sec"`
}

// Reconcile contains config values for the series reconciliation engine.
type Reconcile struct {
	Enabled   bool `json:"enabled"`
	RunIntSec int  `json:"run_interval_sec"`
}

// Connection contains config values for different API and storage connections.
type Connection struct {
	WS         WS         `json:"websocket"`
	REST       REST       `json:"rest"`
	Buffer     Buffer     `json:"buffer"`
	Postgres   Postgres   `json:"postgres"`
	ClickHouse ClickHouse `json:"clickhouse"`
	NATS       NATS       `json:"nats"`
	S3         S3         `json:"s3"`
}

// WS contains config values for websocket connection.
type WS struct {
	ConnTimeoutSec int `json:"conn_timeout_sec"`
	ReadTimeoutSec int `json:"read_timeout_sec"`
}

// REST contains config values for REST API connection.
type REST struct {
	ReqTimeoutSec       int `json:"request_timeout_sec"`
	MaxIdleConns        int `json:"max_idle_conns"`
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`
}

// Buffer contains config values for the per-adapter tick batch buffer.
type Buffer struct {
	FlushIntervalMilli int `json:"flush_interval_milli"`
	MaxSize            int `json:"max_size"`
}

// Postgres contains config values for the relational store holding the
// coin registry, the tick store and the aligned series.
type Postgres struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	User               string `json:"user"`
	Password           string `json:"password"`
	Schema             string `json:"schema"`
	ReqTimeoutSec      int    `json:"request_timeout_sec"`
	MaxConns           int    `json:"max_conns"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec"`
}

// ClickHouse contains config values for the columnar raw tick archive.
type ClickHouse struct {
	User          string   `json:"user"`
	Password      string   `json:"password"`
	URL           string   `json:"URL"`
	Schema        string   `json:"schema"`
	ReqTimeoutSec int      `json:"request_timeout_sec"`
	AltHosts      []string `json:"alt_hosts"`
	Compression   bool     `json:"compression"`
}

// NATS contains config values for the live tick fan-out.
type NATS struct {
	Addresses       []string `json:"addresses"`
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	SubjectBaseName string   `json:"subject_base_name"`
	ReqTimeoutSec   int      `json:"request_timeout_sec"`
}

// S3 contains config values for batch object archival.
type S3 struct {
	AWSRegion           string `json:"aws_region"`
	AccessKeyID         string `json:"access_key_id"`
	SecretAccessKey     string `json:"secret_access_key"`
	Bucket              string `json:"bucket"`
	UsePrefixForObjName bool   `json:"use_prefix_for_object_name"`
	ReqTimeoutSec       int    `json:"request_timeout_sec"`
	MaxIdleConns        int    `json:"max_idle_conns"`
	MaxIdleConnsPerHost int    `json:"max_idle_conns_per_host"`
}

// Log contains config values for logging.
type Log struct {
	Level    string `json:"level"`
	FilePath string `json:"file_path"`
}
