// Package sftp exchanges batch X12 files with the state Medicaid payer over
// SFTP. Outgoing claim files go to the trading partner's inbound directory;
// the payer drops 835, 999, 277 and TA1 responses into the outbound one.
//
// Every exported operation opens its own session and closes it before
// returning. Nothing is pooled and nothing is retried.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"time"

	gosftp "github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort    = 22
	DefaultTimeout = 30 * time.Second

	filenameTimeFormat = "20060102150405"
)

// Config identifies the payer host and the trading partner's credentials.
type Config struct {
	Host             string
	Port             int
	Username         string
	Password         string
	TradingPartnerID string
	Environment      string // directory prefix, e.g. "PROD" or "TEST"
	KnownHostsFile   string
	Timeout          time.Duration
}

// InboundDir is where claim files are uploaded.
func (c Config) InboundDir() string {
	return fmt.Sprintf("/%s/EDI_IN/%s_INBOUND", c.Environment, c.TradingPartnerID)
}

// OutboundDir is where the payer leaves response files.
func (c Config) OutboundDir() string {
	return fmt.Sprintf("/%s/EDI_OUT/%s_OUTBOUND", c.Environment, c.TradingPartnerID)
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Session is an open SFTP client plus whatever must be closed with it.
type Session struct {
	*gosftp.Client
	closer io.Closer
}

// NewSession pairs an SFTP client with the transport it runs on.
func NewSession(client *gosftp.Client, transport io.Closer) *Session {
	return &Session{Client: client, closer: transport}
}

// Close ends the SFTP session and then its transport.
func (s *Session) Close() error {
	err := s.Client.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// DialFunc opens a new session.
type DialFunc func(ctx context.Context, cfg Config) (*Session, error)

// RemoteFile describes a file in the outbound directory.
type RemoteFile struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// File is a downloaded response file.
type File struct {
	Name    string
	Content []byte
	ModTime time.Time
}

// Client performs batch file operations for one trading partner.
type Client struct {
	cfg    Config
	dial   DialFunc
	logger zerolog.Logger
	now    func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the SSH dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) { c.dial = dial }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides the clock used for generated filenames.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a client for cfg.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		dial:   DialSSH,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().
		Str("component", "sftp").
		Str("tpid", cfg.TradingPartnerID).
		Logger()
	return c
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// DialSSH connects with password authentication, verifying the host key
// against cfg.KnownHostsFile.
func DialSSH(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	if cfg.KnownHostsFile == "" {
		return nil, errors.New("known hosts file is required")
	}
	hostKeys, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, cfg.addr(), sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := gosftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	return NewSession(client, sshClient), nil
}

// withSession opens a session, runs fn and always closes the session.
func (c *Client) withSession(ctx context.Context, op, target string, fn func(*Session) error) error {
	if err := ctx.Err(); err != nil {
		return &BatchError{Op: op, Path: target, Err: err}
	}
	sess, err := c.dial(ctx, c.cfg)
	if err != nil {
		return &BatchError{Op: op, Path: target, Err: fmt.Errorf("connect: %w", err)}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			c.logger.Warn().Err(cerr).Str("op", op).Msg("closing sftp session")
		}
	}()
	if err := fn(sess); err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return be
		}
		return &BatchError{Op: op, Path: target, Err: err}
	}
	return nil
}

// DefaultFilename is <txType>_<TPID>_<YYYYMMDDHHMMSS>.x12.
func DefaultFilename(txType, tradingPartnerID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s.x12", txType, tradingPartnerID, at.Format(filenameTimeFormat))
}

// Upload writes content into the inbound directory and returns the filename
// used. An empty filename is replaced by DefaultFilename.
func (c *Client) Upload(ctx context.Context, content []byte, filename, txType string) (string, error) {
	if filename == "" {
		filename = DefaultFilename(txType, c.cfg.TradingPartnerID, c.now())
	}
	remote := path.Join(c.cfg.InboundDir(), filename)

	err := c.withSession(ctx, "upload", remote, func(s *Session) error {
		f, err := s.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return err
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return "", err
	}
	c.logger.Info().Str("filename", filename).Int("bytes", len(content)).Msg("uploaded batch file")
	return filename, nil
}

// ListFiles lists regular files in the outbound directory, oldest first.
func (c *Client) ListFiles(ctx context.Context) ([]RemoteFile, error) {
	var files []RemoteFile
	err := c.withSession(ctx, "list", c.cfg.OutboundDir(), func(s *Session) error {
		var err error
		files, err = listOutbound(s, c.cfg.OutboundDir())
		return err
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Download reads one file from the outbound directory.
func (c *Client) Download(ctx context.Context, name string) ([]byte, error) {
	remote := path.Join(c.cfg.OutboundDir(), path.Base(name))
	var content []byte
	err := c.withSession(ctx, "download", remote, func(s *Session) error {
		var err error
		content, err = readFile(s, remote)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// DownloadAll reads every outbound file in a single session. When deleteAfter
// is set each file is removed once read; a failed removal is logged and the
// file is still returned. On error the files read so far are returned along
// with it.
func (c *Client) DownloadAll(ctx context.Context, deleteAfter bool) ([]File, error) {
	dir := c.cfg.OutboundDir()
	var out []File
	err := c.withSession(ctx, "download all", dir, func(s *Session) error {
		listing, err := listOutbound(s, dir)
		if err != nil {
			return err
		}
		for _, rf := range listing {
			if err := ctx.Err(); err != nil {
				return err
			}
			remote := path.Join(dir, rf.Name)
			content, err := readFile(s, remote)
			if err != nil {
				return &BatchError{Op: "download", Path: remote, Err: err}
			}
			out = append(out, File{Name: rf.Name, Content: content, ModTime: rf.ModTime})

			if deleteAfter {
				if err := s.Remove(remote); err != nil {
					c.logger.Warn().Err(err).Str("filename", rf.Name).Msg("failed to delete downloaded file")
				}
			}
		}
		return nil
	})
	c.logger.Info().Int("files", len(out)).Bool("delete_after", deleteAfter).Msg("downloaded outbound files")
	return out, err
}

// Delete removes one file from the outbound directory.
func (c *Client) Delete(ctx context.Context, name string) error {
	remote := path.Join(c.cfg.OutboundDir(), path.Base(name))
	err := c.withSession(ctx, "delete", remote, func(s *Session) error {
		return s.Remove(remote)
	})
	if err != nil {
		return err
	}
	c.logger.Debug().Str("filename", name).Msg("deleted outbound file")
	return nil
}

// TestConnection opens a session and checks both exchange directories.
func (c *Client) TestConnection(ctx context.Context) error {
	return c.withSession(ctx, "test connection", "", func(s *Session) error {
		for _, dir := range []string{c.cfg.InboundDir(), c.cfg.OutboundDir()} {
			fi, err := s.Stat(dir)
			if err != nil {
				return &BatchError{Op: "stat", Path: dir, Err: err}
			}
			if !fi.IsDir() {
				return &BatchError{Op: "stat", Path: dir, Err: errors.New("not a directory")}
			}
		}
		return nil
	})
}

func listOutbound(s *Session, dir string) ([]RemoteFile, error) {
	entries, err := s.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]RemoteFile, 0, len(entries))
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		files = append(files, RemoteFile{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func readFile(s *Session, remote string) ([]byte, error) {
	f, err := s.Open(remote)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
