// Package config loads application configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	DifyBaseURL string
	DifyAPIKey  string

	TTSBaseURL string
	TTSAPIKey  string
	TTSVoiceID string

	CallDebounce time.Duration
	CallUserID   string
}

// Load reads environment variables and returns Config with sane defaults.
// Missing credentials disable the related feature gracefully instead of
// failing startup.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("config: no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	difyBase := os.Getenv("DIFY_API_BASE_URL")
	difyKey := os.Getenv("DIFY_API_KEY")
	if difyBase == "" || difyKey == "" {
		logrus.Warn("config: DIFY_API_BASE_URL / DIFY_API_KEY not set - chat will not work")
	}

	ttsBase := os.Getenv("TTS_API_URL")
	ttsKey := os.Getenv("TTS_API_KEY")
	voiceID := os.Getenv("TTS_VOICE_ID")
	if ttsBase == "" || ttsKey == "" || voiceID == "" {
		logrus.Warn("config: TTS_API_URL / TTS_API_KEY / TTS_VOICE_ID not set - server synthesis disabled, browser fallback will be used")
	}

	debounce := 1200 * time.Millisecond
	if raw := os.Getenv("CALL_DEBOUNCE_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 800 && ms <= 2000 {
			debounce = time.Duration(ms) * time.Millisecond
		} else {
			logrus.WithField("CALL_DEBOUNCE_MS", raw).Warn("config: invalid debounce, keeping default")
		}
	}

	userID := os.Getenv("CALL_USER_ID")
	if userID == "" {
		userID = "user-001"
	}

	logrus.WithField("addr", addr).Info("config: loaded")
	return Config{
		HTTPAddress:  addr,
		DifyBaseURL:  difyBase,
		DifyAPIKey:   difyKey,
		TTSBaseURL:   ttsBase,
		TTSAPIKey:    ttsKey,
		TTSVoiceID:   voiceID,
		CallDebounce: debounce,
		CallUserID:   userID,
	}
}
