package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/shell"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	DefaultUser        = "root"
	DefaultPort        = 22
	DefaultDialTimeout = 30 * time.Second

	partSuffix = ".part"
)

// Source is a file on a remote backup storage host
type Source struct {
	// Host is host, user@host, host:port or user@host:port
	Host string

	// PrivateKey is a PEM encoded private key
	PrivateKey string

	// Path is the absolute path of the file on the remote host
	Path string
}

// Fetcher copies a remote file to a local path
type Fetcher interface {
	Fetch(ctx context.Context, src Source, dst string) error
}

// Options configures an SSHFetcher
type Options struct {
	User        string
	Port        int
	KnownHosts  string
	DialTimeout time.Duration
}

// SSHFetcher streams remote files over an SSH session
type SSHFetcher struct {
	user        string
	port        int
	dialTimeout time.Duration
	hostKeys    ssh.HostKeyCallback
}

// NewSSHFetcher creates a fetcher. Host keys are verified against
// opts.KnownHosts when it is set and accepted unchecked otherwise.
func NewSSHFetcher(opts Options) (*SSHFetcher, error) {
	f := &SSHFetcher{
		user:        opts.User,
		port:        opts.Port,
		dialTimeout: opts.DialTimeout,
	}
	if f.user == "" {
		f.user = DefaultUser
	}
	if f.port == 0 {
		f.port = DefaultPort
	}
	if f.dialTimeout == 0 {
		f.dialTimeout = DefaultDialTimeout
	}

	if opts.KnownHosts != "" {
		cb, err := knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", opts.KnownHosts, err)
		}
		f.hostKeys = cb
	} else {
		logger := log.WithComponent("fetch")
		logger.Warn().Msg("no known_hosts configured, remote host keys will not be verified")
		f.hostKeys = ssh.InsecureIgnoreHostKey()
	}
	return f, nil
}

// Endpoint is a parsed Source.Host
type Endpoint struct {
	User string
	Host string
	Port int
}

// Addr returns host:port
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseHost splits [user@]host[:port], filling in the defaults
func ParseHost(s, defaultUser string, defaultPort int) (Endpoint, error) {
	e := Endpoint{User: defaultUser, Port: defaultPort}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		e.User = s[:i]
		s = s[i+1:]
		if e.User == "" {
			return Endpoint{}, types.Errorf(types.ErrInvalidArgument, "empty user in hostname")
		}
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port given
		host = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	} else {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Endpoint{}, types.Errorf(types.ErrInvalidArgument, "invalid port %q in hostname", port)
		}
		e.Port = p
	}

	if host == "" {
		return Endpoint{}, types.Errorf(types.ErrInvalidArgument, "hostname is required")
	}
	e.Host = host
	return e, nil
}

// Fetch copies src.Path to dst. Data is written to dst.part and renamed into
// place once the remote command exits cleanly.
func (f *SSHFetcher) Fetch(ctx context.Context, src Source, dst string) error {
	logger := log.WithComponent("fetch")

	if src.Path == "" {
		return types.Errorf(types.ErrInvalidArgument, "remote path is required")
	}
	endpoint, err := ParseHost(src.Host, f.user, f.port)
	if err != nil {
		return err
	}
	signer, err := ssh.ParsePrivateKey([]byte(src.PrivateKey))
	if err != nil {
		return types.Wrap(types.ErrInvalidArgument, err, "invalid ssh private key")
	}

	client, err := f.dial(ctx, endpoint, signer)
	if err != nil {
		return err
	}
	defer client.Close()

	// Closing the client unblocks the copy below
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return types.Wrap(types.ErrExternalToolFailure, err, "failed to open ssh session to %s", endpoint.Addr())
	}
	defer session.Close()

	part := dst + partSuffix
	out, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return types.Wrap(types.ErrIOFailure, err, "failed to create %s", part)
	}

	var stderr strings.Builder
	session.Stdout = out
	session.Stderr = &stderr

	start := time.Now()
	cmd := "cat -- " + shell.Quote(src.Path)
	logger.Debug().Str("host", endpoint.Addr()).Str("cmd", cmd).Msg("fetching remote image")

	runErr := session.Run(cmd)
	closeErr := out.Close()

	if runErr != nil {
		_ = os.Remove(part)
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = errors.Join(runErr, ctxErr)
		}
		return types.Wrap(types.ErrExternalToolFailure, runErr, "failed to download %s:%s, stderr: %s", endpoint.Host, src.Path, strings.TrimSpace(stderr.String()))
	}
	if closeErr != nil {
		_ = os.Remove(part)
		return types.Wrap(types.ErrIOFailure, closeErr, "failed to write %s", part)
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return types.Wrap(types.ErrIOFailure, err, "failed to move %s to %s", part, dst)
	}

	if info, err := os.Stat(dst); err == nil {
		logger.Info().
			Str("host", endpoint.Host).
			Str("path", src.Path).
			Str("size", humanize.IBytes(uint64(info.Size()))).
			Dur("duration", time.Since(start)).
			Msg("remote image downloaded")
	}
	return nil
}

func (f *SSHFetcher) dial(ctx context.Context, endpoint Endpoint, signer ssh.Signer) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            endpoint.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: f.hostKeys,
		Timeout:         f.dialTimeout,
	}

	addr := endpoint.Addr()
	dialer := net.Dialer{Timeout: f.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, types.Wrap(types.ErrExternalToolFailure, err, "failed to connect to %s", addr)
	}

	// NewClientConn closes conn on error
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, types.Wrap(types.ErrExternalToolFailure, err, "ssh handshake with %s failed", addr)
	}
	return ssh.NewClient(c, chans, reqs), nil
}
