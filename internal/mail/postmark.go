package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	BaseURL      string // optional API override
}

type Postmark struct {
	client *postmark.Client
	from   string
}

func NewPostmark(cfg PostmarkConfig) (*Postmark, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: ServerToken is required", ErrInvalidConfig)
	}
	if cfg.AccountToken == "" {
		return nil, fmt.Errorf("%w: AccountToken is required", ErrInvalidConfig)
	}
	if !isValidEmail(cfg.From) {
		return nil, fmt.Errorf("%w: From must be a valid email address", ErrInvalidConfig)
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &Postmark{client: client, from: cfg.From}, nil
}

func (p *Postmark) Send(ctx context.Context, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.from,
		To:         params.To,
		Subject:    params.Subject,
		Tag:        params.Tag,
		HTMLBody:   params.HTMLBody,
	})
	if err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSend, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
