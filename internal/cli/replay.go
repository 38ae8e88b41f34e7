package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/blob"
	"github.com/vincentbai/sitetrace-agent/internal/models"
	"github.com/vincentbai/sitetrace-agent/internal/tracker"
)

// replayClock reports the timestamp of the event being replayed.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type replayOptions struct {
	collector  string
	page       string
	screenSize string
	cachePath  string
	hidden     bool
}

func newReplayCmd(envFile *string) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Drive a tracking session from a recorded event log",
		Long: `Replay reads one JSON event per line (click, scroll, visibility, section,
tick, unload), runs them through a session tracker on the recorded clock and
delivers snapshots to the collector. The session ends at the last event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer a.close()

			records, err := readRecordedEvents(args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("%s contains no events", args[0])
			}

			if opts.collector == "" {
				opts.collector = "http://" + a.cfg.Addr()
			}
			if opts.cachePath == "" {
				opts.cachePath = filepath.Join(a.cfg.DataDir, "tracker-cache.enc")
			}

			session, err := replay(cmd, a, records, opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events as session %s: %ds on screen, %d clicks, %d%% scrolled\n",
				len(records), session.SessionID, session.TimeOnScreen, len(session.Clicks), session.ScrollDepth)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.collector, "collector", "", "Collector base URL (default http://ANALYTICS_HOST:ANALYTICS_PORT)")
	cmd.Flags().StringVar(&opts.page, "page", "/", "Page path recorded on the session")
	cmd.Flags().StringVar(&opts.screenSize, "screen", "", "Screen size recorded on the session, e.g. 1920x1080")
	cmd.Flags().StringVar(&opts.cachePath, "cache", "", "Encrypted snapshot cache file (default DATA_DIR/tracker-cache.enc)")
	cmd.Flags().BoolVar(&opts.hidden, "hidden", false, "Start the session in the background")
	return cmd
}

func replay(cmd *cobra.Command, a *app, records []tracker.RecordedEvent, opts replayOptions) (models.Session, error) {
	collector, err := tracker.NewHTTPCollector(opts.collector, nil)
	if err != nil {
		return models.Session{}, err
	}
	cacheFile, err := blob.NewFile(opts.cachePath)
	if err != nil {
		return models.Session{}, err
	}

	clock := &replayClock{now: records[0].Time()}
	logger := a.logger.Named("tracker")
	t := tracker.New(tracker.Options{
		Page:    opts.page,
		Device:  models.DeviceInfo{ScreenSize: opts.screenSize, UserAgent: "sitetrace-agent/" + version},
		Visible: !opts.hidden,
		Now:     clock.Now,

		Cache:     tracker.NewCache(cacheFile, a.codec, tracker.DefaultCacheLimit, logger),
		Transport: collector,
		Logger:    logger,
	})
	if err := t.Start(cmd.Context()); err != nil {
		return models.Session{}, err
	}

	for i, rec := range records {
		ev, err := rec.Event()
		if err != nil {
			return models.Session{}, fmt.Errorf("event %d: %w", i+1, err)
		}
		clock.Set(rec.Time())
		if err := t.Handle(ev); err != nil {
			if errors.Is(err, tracker.ErrEnded) {
				logger.Warn("events after unload ignored", zap.Int("remaining", len(records)-i))
				break
			}
			return models.Session{}, fmt.Errorf("event %d: %w", i+1, err)
		}
	}

	if t.State() != tracker.StateEnded {
		if err := t.EndSession(); err != nil {
			return models.Session{}, err
		}
	}
	t.Wait()
	return t.Snapshot(), nil
}

func readRecordedEvents(path string) ([]tracker.RecordedEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var records []tracker.RecordedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		rec, err := tracker.ParseRecordedEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return records, nil
}
