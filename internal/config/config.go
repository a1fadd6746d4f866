package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"memematch/internal/app"
	"memematch/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Game      GameConfig
	Transport TransportConfig
	Logging   LoggingConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string
	Host string
	Env  string // "development" or "production"
}

// GameConfig holds game-related configuration
type GameConfig struct {
	MinPlayers         int
	MaxPlayers         int
	TotalRounds        int
	CountdownSeconds   int
	SubmissionSeconds  int
	VotingSeconds      int
	ResultsSeconds     int
	LeaderboardSeconds int
	MinSubmission      time.Duration
	HeartbeatTimeout   time.Duration
	PresenceInterval   time.Duration
	PresenceWindow     time.Duration
	StallGrace         time.Duration
	RoomCodeLength     int
	MemesDir           string // empty uses the built-in catalog
	BotLatencyScale    float64
}

// TransportConfig holds limits for the store websocket
type TransportConfig struct {
	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageBytes   int64
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load reads a .env file when present, then environment variables with defaults
func Load(envFiles ...string) *Config {
	// A missing .env is normal outside development.
	_ = godotenv.Load(envFiles...)

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Game: GameConfig{
			MinPlayers:         getEnvInt("MIN_PLAYERS", 2),
			MaxPlayers:         getEnvInt("MAX_PLAYERS", 8),
			TotalRounds:        getEnvInt("TOTAL_ROUNDS", 5),
			CountdownSeconds:   getEnvInt("COUNTDOWN_SECONDS", 5),
			SubmissionSeconds:  getEnvInt("SUBMISSION_SECONDS", 60),
			VotingSeconds:      getEnvInt("VOTING_SECONDS", 30),
			ResultsSeconds:     getEnvInt("RESULTS_SECONDS", 10),
			LeaderboardSeconds: getEnvInt("LEADERBOARD_SECONDS", 8),
			MinSubmission:      time.Duration(getEnvInt("MIN_SUBMISSION_SECONDS", 10)) * time.Second,
			HeartbeatTimeout:   time.Duration(getEnvInt("HEARTBEAT_TIMEOUT_SECONDS", 5)) * time.Second,
			PresenceInterval:   time.Duration(getEnvInt("PRESENCE_INTERVAL_SECONDS", 10)) * time.Second,
			PresenceWindow:     time.Duration(getEnvInt("PRESENCE_WINDOW_SECONDS", 30)) * time.Second,
			StallGrace:         time.Duration(getEnvInt("STALL_GRACE_SECONDS", 30)) * time.Second,
			RoomCodeLength:     getEnvInt("ROOM_CODE_LENGTH", 6),
			MemesDir:           getEnv("MEMES_DIR", ""),
			BotLatencyScale:    getEnvFloat("BOT_LATENCY_SCALE", 1),
		},
		Transport: TransportConfig{
			MessagesPerSecond: getEnvFloat("WS_MESSAGES_PER_SECOND", 20),
			MessageBurst:      getEnvInt("WS_MESSAGE_BURST", 40),
			MaxMessageBytes:   int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 64*1024)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetAddr returns the server address in host:port format
func (c *Config) GetAddr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// LobbySettings returns the defaults applied to new lobbies
func (g GameConfig) LobbySettings() domain.LobbySettings {
	return domain.LobbySettings{
		MinPlayers:  g.MinPlayers,
		MaxPlayers:  g.MaxPlayers,
		TotalRounds: g.TotalRounds,
	}
}

// Timings converts the phase settings for the game controller and hub
func (g GameConfig) Timings() app.Timings {
	t := app.DefaultTimings()
	t.Countdown = seconds(g.CountdownSeconds)
	t.Submission = seconds(g.SubmissionSeconds)
	t.Voting = seconds(g.VotingSeconds)
	t.Results = seconds(g.ResultsSeconds)
	t.Leaderboard = seconds(g.LeaderboardSeconds)
	t.MinSubmission = g.MinSubmission
	t.HeartbeatTimeout = g.HeartbeatTimeout
	t.PresenceInterval = g.PresenceInterval
	t.PresenceWindow = g.PresenceWindow
	t.StallGrace = g.StallGrace
	return t
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// getEnv returns an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns an environment variable as an integer or a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat returns an environment variable as a float or a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
