// Package mail delivers HTML reports over SMTP, Postmark, or to local files.
package mail

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vincentbai/sitetrace-agent/internal/config"
)

var (
	ErrFailedToSend  = errors.New("mail: failed to send")
	ErrInvalidConfig = errors.New("mail: invalid configuration")
	ErrInvalidParams = errors.New("mail: invalid parameters")
)

type Sender interface {
	Send(ctx context.Context, params Params) error
}

type Params struct {
	To       string
	Subject  string
	HTMLBody string
	Tag      string // optional, used for provider analytics and dev file names
}

func (p Params) Validate() error {
	if strings.TrimSpace(p.To) == "" || !isValidEmail(p.To) {
		return fmt.Errorf("%w: To must be a valid email address", ErrInvalidParams)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return fmt.Errorf("%w: Subject is required", ErrInvalidParams)
	}
	if strings.TrimSpace(p.HTMLBody) == "" {
		return fmt.Errorf("%w: HTMLBody is required", ErrInvalidParams)
	}
	return nil
}

// New picks the sender for cfg.Driver. from is the envelope sender address.
func New(cfg config.MailConfig, from string) (Sender, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTP(SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			TLSMode:  cfg.TLSMode,
			From:     from,
		})
	case "postmark":
		return NewPostmark(PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			From:         from,
		})
	case "dev", "":
		return NewDevSender(cfg.DevDir)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}
