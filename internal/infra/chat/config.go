package chat

import (
	"errors"
	"log/slog"
	"net/url"
	"time"

	"feedrelay/internal/pkg/config"
)

// ConfigFromEnv reads CHAT_API_URL, CHAT_BOT_TOKEN, CHAT_TIMEOUT,
// CHAT_RATE_PER_SECOND and CHAT_BURST over DefaultConfig. Invalid values fall
// back to the default with a warning; a missing token is left for NewClient
// to reject.
func ConfigFromEnv(logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()
	warn := func(key, msg string) {
		if msg != "" {
			logger.Warn("chat configuration fallback applied", slog.String("env", key), slog.String("reason", msg))
		}
	}

	api := config.String("CHAT_API_URL", cfg.APIURL, validateAPIURL)
	cfg.APIURL = api.Value
	warn("CHAT_API_URL", api.Warning)

	cfg.Token = config.String("CHAT_BOT_TOKEN", "", nil).Value

	timeout := config.Duration("CHAT_TIMEOUT", cfg.Timeout, config.DurationRange(time.Second, 2*time.Minute))
	cfg.Timeout = timeout.Value
	warn("CHAT_TIMEOUT", timeout.Warning)

	rps := config.Float("CHAT_RATE_PER_SECOND", cfg.RatePerSecond, func(v float64) error {
		return config.ValidateFloatRange(v, 0, 1000)
	})
	cfg.RatePerSecond = rps.Value
	warn("CHAT_RATE_PER_SECOND", rps.Warning)

	burst := config.Int("CHAT_BURST", cfg.Burst, config.IntRange(1, 1000))
	cfg.Burst = burst.Value
	warn("CHAT_BURST", burst.Warning)

	return cfg
}

func validateAPIURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
