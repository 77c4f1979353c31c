package config

import (
	"os"
	"strconv"
	"time"
)

// SMTPConfig configures the send_email tool.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Security string `yaml:"security"` // starttls, ssl, none
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Timeout  string `yaml:"timeout"`
}

// Enabled reports whether enough is configured to send mail.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.To != ""
}

func (s *SMTPConfig) applyEnvOverrides() {
	if v := os.Getenv("SMTP_HOST"); v != "" {
		s.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.Port = port
		}
	}
	if v := os.Getenv("SMTP_SECURITY"); v != "" {
		s.Security = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		s.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		s.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		s.From = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		s.To = v
	}
}

// GetSMTPTimeout returns the SMTP dial/send timeout as a duration.
func (c *Config) GetSMTPTimeout() time.Duration {
	return parseDuration(c.SMTP.Timeout, 30*time.Second)
}
