package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DevSender writes each message to dir as an .html body plus a .json
// metadata file instead of delivering it.
type DevSender struct {
	dir string
	now func() time.Time
}

func NewDevSender(dir string) (*DevSender, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: dev mail directory is required", ErrInvalidConfig)
	}
	return &DevSender{dir: dir, now: time.Now}, nil
}

type devMetadata struct {
	Timestamp string `json:"timestamp"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Tag       string `json:"tag,omitempty"`
}

func (d *DevSender) Send(ctx context.Context, params Params) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrFailedToSend, err)
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrFailedToSend, err)
	}

	now := d.now()
	identifier := params.Tag
	if identifier == "" {
		identifier = params.Subject
	}
	base := filepath.Join(d.dir, now.Format("2006_01_02_150405")+"_"+sanitizeFilename(identifier))

	if err := os.WriteFile(base+".html", []byte(params.HTMLBody), 0o644); err != nil {
		return fmt.Errorf("%w: write body: %v", ErrFailedToSend, err)
	}
	meta, err := json.MarshalIndent(devMetadata{
		Timestamp: now.Format(time.RFC3339),
		To:        params.To,
		Subject:   params.Subject,
		Tag:       params.Tag,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", ErrFailedToSend, err)
	}
	if err := os.WriteFile(base+".json", meta, 0o644); err != nil {
		return fmt.Errorf("%w: write metadata: %v", ErrFailedToSend, err)
	}
	return nil
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeFilename.ReplaceAllString(s, "")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
