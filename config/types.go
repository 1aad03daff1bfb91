package config

// Logging controls where structured logs are written. An empty File keeps
// logs on stdout.
type Logging struct {
	File       string `toml:"File" env:"FILE"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Auth configures caller authentication on the HTTP gateway.
type Auth struct {
	JWTSecretEnv    string `toml:"JWTSecretEnv"`
	Issuer          string `toml:"Issuer"`
	Audience        string `toml:"Audience"`
	TokenTTLSeconds int64  `toml:"TokenTTLSeconds"`
}

// RateLimit bounds the request rate accepted from a single client.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond" env:"RPS"`
	Burst             int     `toml:"Burst" env:"BURST"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" env:"ENDPOINT"`
	Insecure bool   `toml:"Insecure" env:"INSECURE"`
	Headers  string `toml:"Headers" env:"HEADERS"`
	Metrics  bool   `toml:"Metrics" env:"METRICS"`
	Traces   bool   `toml:"Traces" env:"TRACES"`
	// SampleRatio is the fraction of root spans exported; 0 exports all.
	SampleRatio float64 `toml:"SampleRatio" env:"SAMPLE_RATIO"`
}

type Pauses struct {
	Crowdsale bool `toml:"Crowdsale" env:"CROWDSALE"`
}

// Quota defines the per-caller request budget for contributions.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds"`
}

// Quotas groups quotas for each module.
type Quotas struct {
	Contributions Quota `toml:"Contributions"`
}

// Token describes the bundled token the sale mints on.
type Token struct {
	Name     string `toml:"Name"`
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	Deployer string `toml:"Deployer"`
}

// Campaign holds the sale parameters in their textual form. Amounts are
// decimal (or 0x-prefixed hex) integers in base units; times are unix seconds
// or RFC 3339 timestamps.
type Campaign struct {
	OpeningTime    string `toml:"OpeningTime"`
	ClosingTime    string `toml:"ClosingTime"`
	PreSaleRate    string `toml:"PreSaleRate"`
	SoftCapRate    string `toml:"SoftCapRate"`
	HardCapRate    string `toml:"HardCapRate"`
	PreSaleCap     string `toml:"PreSaleCap"`
	SoftCap        string `toml:"SoftCap"`
	HardCap        string `toml:"HardCap"`
	Wallet         string `toml:"Wallet"`
	CompanyReserve string `toml:"CompanyReserve"`
	MiningPool     string `toml:"MiningPool"`
	ICOBounty      string `toml:"ICOBounty"`
	GitHubBounty   string `toml:"GitHubBounty"`
	Owner          string `toml:"Owner"`
	Authority      string `toml:"Authority"`
}
