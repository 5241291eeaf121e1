// Package session runs the per-Miniserver supervision loop: connect,
// authenticate, fetch and parse the structure file, subscribe to binary
// status updates, and apply VALUE/TEXT batches to a Mirror until the
// connection fails, reconnecting with exponential backoff.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/auth"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/mirror"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/structure"
	"github.com/ondrejlevy/loxone-prometheus-exporter/internal/wire"
)

const (
	keepaliveInterval  = 30 * time.Second
	deadConnTimeout    = 60 * time.Second
	backoffBaseSeconds = 1
	backoffMaxSeconds  = 30
)

// Config describes one Miniserver connection target.
type Config struct {
	Name            string
	Host            string
	Port            int
	Username        string
	Password        string
	ClientUUID      string
	ClientName      string
	UseEncryption   bool
	ForceEncryption bool
	PubKeyFetcher   auth.PubKeyFetcher
}

// Runner supervises one Miniserver's connection lifecycle and writes
// decoded updates into its Mirror. Exactly one goroutine calls Run.
type Runner struct {
	cfg    Config
	mirror *mirror.Mirror
	logger log.Logger

	mu            sync.Mutex
	useEncryption bool
}

// NewRunner returns a Runner for cfg, writing into m.
func NewRunner(cfg Config, m *mirror.Mirror, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Runner{
		cfg:           cfg,
		mirror:        m,
		logger:        log.With(logger, "miniserver", cfg.Name),
		useEncryption: cfg.UseEncryption || cfg.ForceEncryption,
	}
}

// Run executes the infinite supervision loop described in the session
// runner design: connect, authenticate, subscribe, receive, and on any
// failure clear connected and sleep with exponential backoff. It returns
// only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: backoffBaseSeconds * time.Second, Max: backoffMaxSeconds * time.Second, Factor: 2}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := r.runOnce(ctx, b)
		r.mirror.SetConnected(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			_ = level.Warn(r.logger).Log("msg", "session cycle ended", "err", err)
		}

		delay := b.Duration()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FetchStructureOnce connects, authenticates, and fetches and parses the
// structure document a single time, without subscribing to updates. It
// backs the exporter's --dump-structure debug flag.
func (r *Runner) FetchStructureOnce(ctx context.Context) (*structure.Structure, error) {
	scheme := r.scheme()
	hostPort := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)

	conn, err := dial(ctx, scheme, hostPort)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	authOpts := auth.Options{
		Username:      r.cfg.Username,
		Password:      r.cfg.Password,
		ClientUUID:    r.cfg.ClientUUID,
		ClientName:    r.cfg.ClientName,
		PubKeyFetcher: r.cfg.PubKeyFetcher,
	}
	if err := auth.Authenticate(ctx, conn, authOpts); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	doc, err := r.fetchStructure(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("fetch structure: %w", err)
	}
	return structure.Parse(doc)
}

func (r *Runner) scheme() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.useEncryption {
		return "wss"
	}
	return "ws"
}

// runOnce executes one connect→authenticate→subscribe→receive cycle. A
// returned error always means the caller should back off and retry; it is
// never a fatal process exit.
func (r *Runner) runOnce(ctx context.Context, b *backoff.Backoff) error {
	scheme := r.scheme()
	hostPort := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)

	conn, err := dial(ctx, scheme, hostPort)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	_ = level.Info(r.logger).Log("msg", "connected", "scheme", scheme)

	authOpts := auth.Options{
		Username:      r.cfg.Username,
		Password:      r.cfg.Password,
		ClientUUID:    r.cfg.ClientUUID,
		ClientName:    r.cfg.ClientName,
		PubKeyFetcher: r.cfg.PubKeyFetcher,
	}
	if err := auth.Authenticate(ctx, conn, authOpts); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	_ = level.Info(r.logger).Log("msg", "authenticated")

	structDoc, err := r.fetchStructure(ctx, conn)
	if err != nil {
		return fmt.Errorf("fetch structure: %w", err)
	}
	parsed, err := structure.Parse(structDoc)
	if err != nil {
		return fmt.Errorf("parse structure: %w", err)
	}

	if upgrade, fatal := r.checkMiniserver2Upgrade(parsed.MiniserverGen); fatal {
		return fmt.Errorf("miniserver 2 requires encryption and force_encryption is set")
	} else if upgrade {
		_ = level.Warn(r.logger).Log("msg", "miniserver 2 detected on plaintext connection, upgrading to wss for next attempt")
		return fmt.Errorf("switching to encrypted connection for miniserver 2")
	}

	r.mirror.ReplaceStructure(parsed)
	_ = level.Info(r.logger).Log("msg", "structure loaded",
		"controls", len(parsed.Controls), "rooms", len(parsed.Rooms), "categories", len(parsed.Categories))

	if err := conn.SendText(ctx, "jdev/sps/enablebinstatusupdate"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if _, err := conn.RecvText(ctx); err != nil {
		return fmt.Errorf("subscribe response: %w", err)
	}

	r.mirror.SetConnected(true)
	b.Reset()
	_ = level.Info(r.logger).Log("msg", "subscribed, entering receive loop")

	// The keepalive sender and the receive loop run concurrently against the
	// same connection; whichever exits first cancels the other's context.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.keepaliveLoop(groupCtx, conn)
	})
	group.Go(func() error {
		return r.receiveLoop(groupCtx, conn)
	})
	return group.Wait()
}

// checkMiniserver2Upgrade implements the §4.4 auto-upgrade rule. fatal
// means this cycle's error should be treated as terminal for the cycle
// (it already is, since every runOnce error triggers a retry); upgrade
// means the internal encryption flag should flip before the next attempt.
func (r *Runner) checkMiniserver2Upgrade(miniserverType int) (upgrade, fatal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if miniserverType != 2 || r.useEncryption {
		return false, false
	}
	if r.cfg.ForceEncryption {
		return false, true
	}
	r.useEncryption = true
	return true, false
}

// fetchStructure requests the structure file and reads its (possibly
// estimated-then-corrected) header followed by exactly one payload frame.
func (r *Runner) fetchStructure(ctx context.Context, conn frameConn) ([]byte, error) {
	if err := conn.SendText(ctx, "data/LoxAPP3.json"); err != nil {
		return nil, fmt.Errorf("send structure request: %w", err)
	}
	return r.readFramedPayload(conn)
}

// readFramedPayload consumes header frames until one declares a non-zero
// payload_length, then reads exactly one further frame of that size. Headers
// flagged as estimated are skipped, since a corrected header follows them.
// Text frames arriving in between (some firmware echoes the command) are
// treated as no-ops.
func (r *Runner) readFramedPayload(conn frameConn) ([]byte, error) {
	for {
		kind, data, err := conn.ReadFrame()
		if err != nil {
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		hdr, err := wire.DecodeHeader(data)
		if err != nil {
			return nil, fmt.Errorf("decode header: %w", err)
		}
		if hdr.PayloadLength == 0 || hdr.Estimated {
			continue
		}
		_, payload, err := conn.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("read payload frame: %w", err)
		}
		return payload, nil
	}
}

func (r *Runner) keepaliveLoop(ctx context.Context, conn frameConn) error {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteText("keepalive"); err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

// receiveLoop classifies incoming frames and applies VALUE/TEXT updates to
// the mirror until a dead-connection timeout, OUT_OF_SERVICE, or transport
// error occurs.
func (r *Runner) receiveLoop(ctx context.Context, conn frameConn) error {
	frames := make(chan frameOrErr)
	go func() {
		defer close(frames)
		for {
			kind, data, err := conn.ReadFrame()
			if err != nil {
				frames <- frameOrErr{err: err}
				return
			}
			frames <- frameOrErr{kind: kind, data: data}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	timeout := time.NewTimer(deadConnTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("receive: no frame within %s, connection considered dead", deadConnTimeout)
		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("receive: frame channel closed")
			}
			if f.err != nil {
				return fmt.Errorf("receive: %w", f.err)
			}
			if !timeout.Stop() {
				<-timeout.C
			}
			timeout.Reset(deadConnTimeout)

			if f.kind != websocket.BinaryMessage {
				_ = level.Debug(r.logger).Log("msg", "text frame", "body", string(f.data))
				continue
			}
			if err := r.handleBinaryFrame(ctx, frames, f.data); err != nil {
				return err
			}
		}
	}
}

type frameOrErr struct {
	kind int
	data []byte
	err  error
}

// handleBinaryFrame decodes one header frame and, if it declares a
// payload, takes the matching payload frame from frames and dispatches it.
func (r *Runner) handleBinaryFrame(ctx context.Context, frames <-chan frameOrErr, data []byte) error {
	hdr, err := wire.DecodeHeader(data)
	if err != nil {
		return fmt.Errorf("decode header: %w", err)
	}
	if hdr.PayloadLength == 0 {
		if hdr.Type == wire.MsgOutOfService {
			return fmt.Errorf("miniserver reported out of service")
		}
		return nil
	}

	var payload []byte
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f, ok := <-frames:
		if !ok {
			return fmt.Errorf("read payload: frame channel closed")
		}
		if f.err != nil {
			return fmt.Errorf("read payload: %w", f.err)
		}
		payload = f.data
	}

	switch hdr.Type {
	case wire.MsgValueStates:
		updates, err := wire.DecodeValueBatch(payload)
		if err != nil {
			_ = level.Warn(r.logger).Log("msg", "malformed value batch", "err", err)
			return nil
		}
		applied := false
		for _, u := range updates {
			if r.mirror.ApplyValueUpdate(u.StateID, u.Value) {
				applied = true
			} else {
				_ = level.Debug(r.logger).Log("msg", "unknown state id", "id", u.StateID)
			}
		}
		if applied {
			r.mirror.AdvanceLastUpdate(time.Now())
		}
	case wire.MsgTextStates:
		updates, err := wire.DecodeTextBatch(payload)
		if err != nil {
			_ = level.Warn(r.logger).Log("msg", "malformed text batch", "err", err)
			return nil
		}
		for _, u := range updates {
			if !r.mirror.ApplyTextUpdate(u.StateID, u.Text) {
				_ = level.Debug(r.logger).Log("msg", "unknown state id", "id", u.StateID)
			}
		}
	case wire.MsgOutOfService:
		return fmt.Errorf("miniserver reported out of service")
	case wire.MsgKeepalive:
		// last-activity already recorded by the dead-connection timer reset above.
	default:
		_ = level.Debug(r.logger).Log("msg", "ignoring frame type", "type", hdr.Type)
	}
	return nil
}
