// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Config represents the complete application configuration.
type Config struct {
	Environment   EnvironmentConfig   `yaml:"environment"`
	Broker        BrokerConfig        `yaml:"broker"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Volatility    VolatilityConfig    `yaml:"volatility"`
	Flow          FlowConfig          `yaml:"flow"`
	Spread        SpreadConfig        `yaml:"spread"`
	Risk          RiskConfig          `yaml:"risk"`
	Correlation   CorrelationConfig   `yaml:"correlation"`
	Liquidity     LiquidityConfig     `yaml:"liquidity"`
	Greeks        GreeksConfig        `yaml:"greeks"`
	Rolling       RollingConfig       `yaml:"rolling"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Storage       StorageConfig       `yaml:"storage"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper | live
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
	// AutoExecute places orders when a candidate passes all gates. When
	// false the engine only alerts.
	AutoExecute bool `yaml:"auto_execute"`
}

// BrokerConfig defines market data and execution venue settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"` // sandbox | tradier
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
}

// ScheduleConfig defines the scan/monitor cadence and trading windows.
type ScheduleConfig struct {
	Timezone        string `yaml:"timezone"`         // e.g. "America/New_York"
	ScanInterval    string `yaml:"scan_interval"`    // entry scan cadence
	MonitorInterval string `yaml:"monitor_interval"` // position check cadence
	TradingStart    string `yaml:"trading_start"`    // "HH:MM" market window
	TradingEnd      string `yaml:"trading_end"`
	EntryStart      string `yaml:"entry_start"` // "HH:MM" new-entry window
	EntryEnd        string `yaml:"entry_end"`
}

// VolatilityConfig defines IV and volatility analysis thresholds.
type VolatilityConfig struct {
	IVRankRich    float64 `yaml:"iv_rank_rich"`    // above = rich premium
	IVRankLow     float64 `yaml:"iv_rank_low"`     // below = cheap, no edge
	IVRankExtreme float64 `yaml:"iv_rank_extreme"` // above = potential crisis

	IVHVRich  float64 `yaml:"iv_hv_rich"`
	IVHVCheap float64 `yaml:"iv_hv_cheap"`

	VIXLow     float64 `yaml:"vix_low"`
	VIXHigh    float64 `yaml:"vix_high"`
	VIXExtreme float64 `yaml:"vix_extreme"`

	ContangoThreshold      float64 `yaml:"contango_threshold"`
	BackwardationThreshold float64 `yaml:"backwardation_threshold"`

	MoveRatioEdge float64 `yaml:"move_ratio_edge"`
	SkewPutRich   float64 `yaml:"skew_put_rich"`

	HVWindow             int     `yaml:"hv_window"`
	HVFallback           float64 `yaml:"hv_fallback"`
	RealizedMoveWindow   int     `yaml:"realized_move_window"`
	RealizedMoveFallback float64 `yaml:"realized_move_fallback"`

	// Minimum IV history samples before rank/percentile are trusted;
	// below this both default to the neutral 50.
	MinIVHistory int `yaml:"min_iv_history"`
}

// FlowConfig defines options flow analysis thresholds.
type FlowConfig struct {
	UnusualVolumeMult float64 `yaml:"unusual_volume_mult"`
	VolOIUnusual      float64 `yaml:"vol_oi_unusual"`
	PCRBullish        float64 `yaml:"pcr_bullish"`
	PCRBearish        float64 `yaml:"pcr_bearish"`
}

// SpreadConfig defines credit spread construction parameters.
type SpreadConfig struct {
	Underlyings []string `yaml:"underlyings"`

	TargetDelta float64 `yaml:"target_delta"`
	DeltaMin    float64 `yaml:"delta_min"`
	DeltaMax    float64 `yaml:"delta_max"`
	Width       float64 `yaml:"width"`

	MinDTE    int `yaml:"min_dte"`
	TargetDTE int `yaml:"target_dte"`
	MaxDTE    int `yaml:"max_dte"`

	MinCredit    float64 `yaml:"min_credit"`
	MinCreditPct float64 `yaml:"min_credit_pct"` // credit as fraction of width

	MinProbOTM float64 `yaml:"min_prob_otm"`
	TickSize   float64 `yaml:"tick_size"`
}

// RiskConfig defines risk management parameters.
type RiskConfig struct {
	MaxRiskPerTrade  float64 `yaml:"max_risk_per_trade"`
	MaxPositions     int     `yaml:"max_positions"`
	MaxPerUnderlying int     `yaml:"max_per_underlying"`

	ProfitTargetPct    float64 `yaml:"profit_target_pct"`
	StopLossMultiplier float64 `yaml:"stop_loss_multiplier"`
	MinDTEExit         int     `yaml:"min_dte_exit"`

	EarningsBufferDays int `yaml:"earnings_buffer_days"`
}

// CorrelationConfig defines correlation-based admission limits.
type CorrelationConfig struct {
	MaxPerGroup              int     `yaml:"max_per_group"`
	MaxCrossAsset            int     `yaml:"max_cross_asset"`
	HighCorrelationThreshold float64 `yaml:"high_correlation_threshold"`
	AllowOppositeDirections  *bool   `yaml:"allow_opposite_directions"`
}

// OppositeDirectionsAllowed reports whether opposite-direction positions may
// bypass correlation caps. Defaults to true when unset.
func (c *CorrelationConfig) OppositeDirectionsAllowed() bool {
	return c.AllowOppositeDirections == nil || *c.AllowOppositeDirections
}

// LiquidityOverride tightens per-leg limits for a specific underlying.
type LiquidityOverride struct {
	MaxSpreadPct    float64 `yaml:"max_spread_pct"`
	MaxSpreadAbs    float64 `yaml:"max_spread_abs"`
	MinOpenInterest int     `yaml:"min_open_interest"`
}

// LiquidityConfig defines leg and combo liquidity limits.
type LiquidityConfig struct {
	MaxSpreadPct      float64                      `yaml:"max_spread_pct"`
	MaxSpreadAbs      float64                      `yaml:"max_spread_abs"`
	MinOpenInterest   int                          `yaml:"min_open_interest"`
	MinVolume         int                          `yaml:"min_volume"`
	MaxComboSpreadPct float64                      `yaml:"max_combo_spread_pct"`
	Overrides         map[string]LiquidityOverride `yaml:"overrides"`
}

// GreeksConfig defines portfolio Greek limits.
type GreeksConfig struct {
	MaxNetDelta       float64 `yaml:"max_net_delta"`
	MaxDeltaPerSymbol float64 `yaml:"max_delta_per_symbol"`
	MaxDeltaDollars   float64 `yaml:"max_delta_dollars"`
	// Floor, not ceiling: premium sellers want net theta >= this.
	MinNetTheta  float64 `yaml:"min_net_theta"`
	MaxNetVega   float64 `yaml:"max_net_vega"`
	MaxNetGamma  float64 `yaml:"max_net_gamma"`
	WarnFraction float64 `yaml:"warn_fraction"`
}

// RollingConfig defines the defer-the-loss roll engine parameters.
type RollingConfig struct {
	TestedThreshold      float64 `yaml:"tested_threshold"`       // distance to short strike
	HighUrgencyThreshold float64 `yaml:"high_urgency_threshold"` // extremely close
	LossThresholdPct     float64 `yaml:"loss_threshold_pct"`
	MinDTEToRoll         int     `yaml:"min_dte_to_roll"`
	RollOutWeeks         int     `yaml:"roll_out_weeks"`
	StrikeIncrements     int     `yaml:"strike_increments"`
	MinRollCredit        float64 `yaml:"min_roll_credit"`
	AcceptDebitRolls     *bool   `yaml:"accept_debit_rolls"`
	MaxDebitPct          float64 `yaml:"max_debit_pct"`
	MaxRolls             int     `yaml:"max_rolls"`

	// Empirical tuning values for the roll credit estimate. The estimate is
	// never authoritative; execution re-quotes against the live chain.
	TimeValueFactor      float64 `yaml:"time_value_factor"`
	StrikeCreditPerPoint float64 `yaml:"strike_credit_per_point"`
}

// DebitRollsAllowed reports whether medium-urgency rolls may pay a debit.
// Defaults to true when unset.
func (c *RollingConfig) DebitRollsAllowed() bool {
	return c.AcceptDebitRolls == nil || *c.AcceptDebitRolls
}

// NotificationsConfig defines the alert channel.
type NotificationsConfig struct {
	Channel    string `yaml:"channel"` // log | webhook | none
	WebhookURL string `yaml:"webhook_url"`
}

// DashboardConfig defines the HTTP dashboard server.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"`
}

// StorageConfig defines position persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate normalizes defaults and checks that all configuration values are
// valid and consistent. Contradictory thresholds fail here, at startup, not
// at decision time.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	switch c.Broker.Provider {
	case "sandbox":
	case "tradier":
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required for provider 'tradier'")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required for provider 'tradier'")
		}
	default:
		return fmt.Errorf("broker.provider must be 'sandbox' or 'tradier'")
	}
	if c.Environment.Mode == "live" && c.Broker.Provider == "sandbox" {
		return fmt.Errorf("environment.mode 'live' cannot use broker.provider 'sandbox'")
	}

	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateVolatility(); err != nil {
		return err
	}
	if err := c.validateSpread(); err != nil {
		return err
	}
	if err := c.validateRisk(); err != nil {
		return err
	}
	if err := c.validateAdmission(); err != nil {
		return err
	}

	switch c.Notifications.Channel {
	case "log", "none":
	case "webhook":
		if c.Notifications.WebhookURL == "" {
			return fmt.Errorf("notifications.webhook_url is required for channel 'webhook'")
		}
	default:
		return fmt.Errorf("notifications.channel must be 'log', 'webhook' or 'none'")
	}

	if c.Dashboard.Enabled && c.Dashboard.ListenAddr == "" {
		return fmt.Errorf("dashboard.listen_addr is required when dashboard is enabled")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

func (c *Config) validateSchedule() error {
	if _, err := time.ParseDuration(c.Schedule.ScanInterval); err != nil {
		return fmt.Errorf("schedule.scan_interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.MonitorInterval); err != nil {
		return fmt.Errorf("schedule.monitor_interval invalid: %w", err)
	}
	loc := c.location()
	for _, w := range []struct{ name, start, end string }{
		{"schedule trading", c.Schedule.TradingStart, c.Schedule.TradingEnd},
		{"schedule entry", c.Schedule.EntryStart, c.Schedule.EntryEnd},
	} {
		s, err1 := time.ParseInLocation("15:04", w.start, loc)
		e, err2 := time.ParseInLocation("15:04", w.end, loc)
		if err1 != nil || err2 != nil || !s.Before(e) {
			return fmt.Errorf("%s window invalid (start/end parse/order)", w.name)
		}
	}
	return nil
}

func (c *Config) validateVolatility() error {
	v := &c.Volatility
	if v.IVRankLow >= v.IVRankRich {
		return fmt.Errorf("volatility.iv_rank_low (%.1f) must be < iv_rank_rich (%.1f)",
			v.IVRankLow, v.IVRankRich)
	}
	if v.IVRankRich >= v.IVRankExtreme {
		return fmt.Errorf("volatility.iv_rank_rich (%.1f) must be < iv_rank_extreme (%.1f)",
			v.IVRankRich, v.IVRankExtreme)
	}
	if v.IVHVCheap >= v.IVHVRich {
		return fmt.Errorf("volatility.iv_hv_cheap (%.2f) must be < iv_hv_rich (%.2f)",
			v.IVHVCheap, v.IVHVRich)
	}
	if v.ContangoThreshold <= 0 {
		return fmt.Errorf("volatility.contango_threshold must be > 0")
	}
	if v.BackwardationThreshold >= 0 {
		return fmt.Errorf("volatility.backwardation_threshold must be < 0")
	}
	if v.HVWindow < 2 {
		return fmt.Errorf("volatility.hv_window must be >= 2")
	}
	if v.MinIVHistory < 2 {
		return fmt.Errorf("volatility.min_iv_history must be >= 2")
	}
	return nil
}

func (c *Config) validateSpread() error {
	s := &c.Spread
	if len(s.Underlyings) == 0 {
		return fmt.Errorf("spread.underlyings must not be empty")
	}
	if s.TargetDelta <= 0 || s.TargetDelta >= 0.5 {
		return fmt.Errorf("spread.target_delta must be in (0, 0.5)")
	}
	if s.DeltaMin <= 0 || s.DeltaMin > s.TargetDelta || s.DeltaMax < s.TargetDelta {
		return fmt.Errorf("spread delta range [%.2f, %.2f] must bracket target_delta %.2f",
			s.DeltaMin, s.DeltaMax, s.TargetDelta)
	}
	if s.Width <= 0 {
		return fmt.Errorf("spread.width must be > 0")
	}
	if s.MinDTE <= 0 || s.MinDTE > s.MaxDTE {
		return fmt.Errorf("spread DTE range [%d, %d] must have 0 < min <= max", s.MinDTE, s.MaxDTE)
	}
	if s.TargetDTE < s.MinDTE || s.TargetDTE > s.MaxDTE {
		return fmt.Errorf("spread.target_dte (%d) must be within [%d, %d]", s.TargetDTE, s.MinDTE, s.MaxDTE)
	}
	if s.MinCredit <= 0 {
		return fmt.Errorf("spread.min_credit must be > 0")
	}
	if s.MinCreditPct <= 0 || s.MinCreditPct >= 1 {
		return fmt.Errorf("spread.min_credit_pct must be in (0, 1)")
	}
	return nil
}

func (c *Config) validateRisk() error {
	r := &c.Risk
	if r.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if r.MaxPerUnderlying <= 0 || r.MaxPerUnderlying > r.MaxPositions {
		return fmt.Errorf("risk.max_per_underlying (%d) must be in [1, max_positions]", r.MaxPerUnderlying)
	}
	if r.ProfitTargetPct <= 0 || r.ProfitTargetPct >= 1 {
		return fmt.Errorf("risk.profit_target_pct must be in (0, 1)")
	}
	if r.StopLossMultiplier <= 0 {
		return fmt.Errorf("risk.stop_loss_multiplier must be > 0")
	}
	if r.MinDTEExit < 0 {
		return fmt.Errorf("risk.min_dte_exit must be >= 0")
	}
	if c.Spread.MinDTE <= r.MinDTEExit {
		return fmt.Errorf("spread.min_dte (%d) must be > risk.min_dte_exit (%d) or entries exit immediately",
			c.Spread.MinDTE, r.MinDTEExit)
	}
	return nil
}

func (c *Config) validateAdmission() error {
	if c.Correlation.MaxPerGroup <= 0 {
		return fmt.Errorf("correlation.max_per_group must be > 0")
	}
	if c.Correlation.MaxCrossAsset <= 0 {
		return fmt.Errorf("correlation.max_cross_asset must be > 0")
	}
	if t := c.Correlation.HighCorrelationThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("correlation.high_correlation_threshold must be in (0, 1]")
	}
	if c.Liquidity.MaxSpreadPct <= 0 {
		return fmt.Errorf("liquidity.max_spread_pct must be > 0")
	}
	if c.Liquidity.MaxSpreadAbs <= 0 {
		return fmt.Errorf("liquidity.max_spread_abs must be > 0")
	}
	if c.Liquidity.MaxComboSpreadPct < c.Liquidity.MaxSpreadPct {
		return fmt.Errorf("liquidity.max_combo_spread_pct (%.2f) must be >= max_spread_pct (%.2f)",
			c.Liquidity.MaxComboSpreadPct, c.Liquidity.MaxSpreadPct)
	}
	if c.Greeks.MaxNetDelta <= 0 || c.Greeks.MaxDeltaPerSymbol <= 0 {
		return fmt.Errorf("greeks delta limits must be > 0")
	}
	if c.Greeks.MaxDeltaPerSymbol > c.Greeks.MaxNetDelta {
		return fmt.Errorf("greeks.max_delta_per_symbol (%.1f) must be <= max_net_delta (%.1f)",
			c.Greeks.MaxDeltaPerSymbol, c.Greeks.MaxNetDelta)
	}
	if f := c.Greeks.WarnFraction; f <= 0 || f >= 1 {
		return fmt.Errorf("greeks.warn_fraction must be in (0, 1)")
	}
	if c.Rolling.TestedThreshold <= 0 {
		return fmt.Errorf("rolling.tested_threshold must be > 0")
	}
	if c.Rolling.HighUrgencyThreshold >= c.Rolling.TestedThreshold {
		return fmt.Errorf("rolling.high_urgency_threshold (%.3f) must be < tested_threshold (%.3f)",
			c.Rolling.HighUrgencyThreshold, c.Rolling.TestedThreshold)
	}
	if c.Rolling.MaxRolls < 0 {
		return fmt.Errorf("rolling.max_rolls must be >= 0")
	}
	if c.Rolling.MaxDebitPct < 0 || c.Rolling.MaxDebitPct >= 1 {
		return fmt.Errorf("rolling.max_debit_pct must be in [0, 1)")
	}
	return nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// ScanInterval returns the configured entry-scan cadence.
func (c *Config) ScanInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.ScanInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// MonitorInterval returns the configured position-check cadence.
func (c *Config) MonitorInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.MonitorInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// IsWithinTradingHours checks if the given time falls within the market window
// on a weekday.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	return c.withinWindow(now, c.Schedule.TradingStart, c.Schedule.TradingEnd)
}

// IsWithinEntryWindow checks if the given time allows opening new positions.
// The entry window avoids the open and the close.
func (c *Config) IsWithinEntryWindow(now time.Time) bool {
	return c.withinWindow(now, c.Schedule.EntryStart, c.Schedule.EntryEnd)
}

func (c *Config) withinWindow(now time.Time, startStr, endStr string) bool {
	loc := c.location()
	today := now.In(loc)

	// Weekdays only
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", startStr, loc)
	endClock, err2 := time.ParseInLocation("15:04", endStr, loc)
	if err1 != nil || err2 != nil {
		return false
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	// Inclusive start, exclusive end
	return !today.Before(start) && today.Before(end)
}

func (c *Config) location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// Fallback for minimal containers
		if fallback, err2 := time.LoadLocation("America/New_York"); err2 == nil {
			return fallback
		}
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}
