package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/canmetro/turnstiled/internal/auth"
)

type Config struct {
	HTTPAddr string
	DoorID   string

	// Telemetry DB
	TelemetryEnabled bool
	DBPath           string

	// Hardware
	Simulate    bool // run without GPIO/LCD
	Servo1Pin   int
	Servo2Pin   int
	SensorAPin  int
	SensorBPin  int
	ButtonPin   int
	LEDRedPin   int
	LEDGreenPin int
	LCDAddr     uint16 // 0 disables the LCD
	LCDCols     int

	// Timings
	CrossingTimeout time.Duration
	PollInterval    time.Duration
	SensorDwell     time.Duration
	ButtonQuiet     time.Duration
	DoorTravel      time.Duration
	DoorSettle      time.Duration

	// Web
	SessionTTL time.Duration

	// Card policy
	AllowAllCards bool
	AllowedCards  map[string]string // card ID -> display name

	Users []auth.Credential
}

func FromEnv() Config {
	cfg := Config{
		HTTPAddr: getenvDefault("TURNSTILE_HTTP_ADDR", ":8000"),
		DoorID:   getenvDefault("TURNSTILE_DOOR_ID", "gate-1"),

		TelemetryEnabled: getenvBool("TURNSTILE_TELEMETRY", true),
		DBPath:           getenvDefault("TURNSTILE_DB_PATH", "./data/turnstiled.db"),

		Simulate:    getenvBool("TURNSTILE_SIMULATE", false),
		Servo1Pin:   getenvInt("TURNSTILE_PIN_SERVO_1", 17),
		Servo2Pin:   getenvInt("TURNSTILE_PIN_SERVO_2", 27),
		SensorAPin:  getenvInt("TURNSTILE_PIN_SENSOR_A", 22),
		SensorBPin:  getenvInt("TURNSTILE_PIN_SENSOR_B", 23),
		ButtonPin:   getenvInt("TURNSTILE_PIN_BUTTON", 5),
		LEDRedPin:   getenvInt("TURNSTILE_PIN_LED_RED", 13),
		LEDGreenPin: getenvInt("TURNSTILE_PIN_LED_GREEN", 19),
		LCDAddr:     uint16(getenvHex("TURNSTILE_LCD_ADDR", 0x3f)),
		LCDCols:     getenvInt("TURNSTILE_LCD_COLS", 16),

		CrossingTimeout: getenvDuration("TURNSTILE_CROSSING_TIMEOUT", 15*time.Second),
		PollInterval:    getenvDuration("TURNSTILE_POLL_INTERVAL", 100*time.Millisecond),
		SensorDwell:     getenvDuration("TURNSTILE_SENSOR_DWELL", 300*time.Millisecond),
		ButtonQuiet:     getenvDuration("TURNSTILE_BUTTON_QUIET", 500*time.Millisecond),
		DoorTravel:      getenvDuration("TURNSTILE_DOOR_TRAVEL", time.Second),
		DoorSettle:      getenvDuration("TURNSTILE_DOOR_SETTLE", time.Second),

		SessionTTL: getenvDuration("TURNSTILE_SESSION_TTL", 30*time.Minute),

		AllowAllCards: getenvBool("TURNSTILE_ALLOW_ALL_CARDS", false),
		AllowedCards:  parsePairs(os.Getenv("TURNSTILE_ALLOWED_CARDS")),
	}

	cfg.Users = defaultUsers()
	return cfg
}

// defaultUsers mirrors the factory accounts; deployments override the
// passwords through the environment.
func defaultUsers() []auth.Credential {
	return []auth.Credential{
		{
			Username: getenvDefault("TURNSTILE_ADMIN_USER", "admin"),
			Password: getenvDefault("TURNSTILE_ADMIN_PASS", "admin123"),
			Name:     getenvDefault("TURNSTILE_ADMIN_NAME", "Administrator"),
			Role:     auth.RoleAdmin,
		},
		{
			Username: getenvDefault("TURNSTILE_USER1_USER", "user1"),
			Password: getenvDefault("TURNSTILE_USER1_PASS", "pass123"),
			Name:     getenvDefault("TURNSTILE_USER1_NAME", "Ana Torres"),
			Role:     auth.RoleUser,
		},
		{
			Username: getenvDefault("TURNSTILE_USER2_USER", "user2"),
			Password: getenvDefault("TURNSTILE_USER2_PASS", "pass123"),
			Name:     getenvDefault("TURNSTILE_USER2_NAME", "Juan Pérez"),
			Role:     auth.RoleUser,
		},
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// getenvHex accepts both "0x3f" and plain decimal.
func getenvHex(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 0, 32)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// parsePairs parses "ID=Name,ID2=Name2" card mappings. An entry without
// "=" maps the ID to itself.
func parsePairs(v string) map[string]string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, ok := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !ok || strings.TrimSpace(name) == "" {
			out[id] = id
			continue
		}
		out[id] = strings.TrimSpace(name)
	}
	return out
}
