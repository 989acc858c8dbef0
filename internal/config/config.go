package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// RedisAddr switches the event bus to Redis pub/sub when set.
	// Empty means the in-process bus.
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`

	// ObfuscationRadiusDeg is the maximum random offset applied per axis to
	// raw request coordinates before anything is stored or displayed.
	ObfuscationRadiusDeg float64 `mapstructure:"obfuscation_radius_deg" yaml:"obfuscation_radius_deg"`
	// MatchRadiusKm bounds the volunteer search around a request.
	MatchRadiusKm float64 `mapstructure:"match_radius_km" yaml:"match_radius_km"`

	SessionTTL    time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MaxMessageBytes int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`

	// BootstrapOperatorEmail and BootstrapOperatorPassword seed a partner
	// operator account on first start when both are set.
	BootstrapOperatorEmail    string `mapstructure:"bootstrap_operator_email" yaml:"bootstrap_operator_email"`
	BootstrapOperatorPassword string `mapstructure:"bootstrap_operator_password" yaml:"bootstrap_operator_password"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                 ":8080",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		DatabasePath:         "aidlink.db",
		ObfuscationRadiusDeg: 0.002,
		MatchRadiusKm:        5,
		SessionTTL:           24 * time.Hour,
		SweepInterval:        time.Minute,
		JWTSecret:            "change-me",
		JWTIssuer:            "aidlink",
		JWTAudience:          "aidlink-clients",
		JWTTTL:               4 * time.Hour,
		MaxMessageBytes:      4096,
		LogLevel:             "info",
	}
}
