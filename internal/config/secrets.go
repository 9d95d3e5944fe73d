package config

// Redacted returns a copy of c with secrets replaced by "***", for logging
// the active configuration.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Server.APIKey)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Vault.Passphrase)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted view cannot alias the original.
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
