package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/jlaffaye/ftp"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

// DefaultFTPTimeout bounds connecting and each file transfer.
const DefaultFTPTimeout = 30 * time.Second

// ftpClient is the subset of *ftp.ServerConn a walk needs.
type ftpClient interface {
	Login(user, password string) error
	List(dir string) ([]*ftp.Entry, error)
	Fetch(file string, deadline time.Time) (io.ReadCloser, error)
	Quit() error
}

type dialFunc func(ctx context.Context, addr string, timeout time.Duration) (ftpClient, error)

// FTPSource reads .md files from a remote FTP tree.
type FTPSource struct {
	Host     string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration

	dial dialFunc
	skipper
}

// NewFTP returns an FTP source. The default policy aborts on the first
// failed item; pass SkipOnItemError to tolerate them.
func NewFTP(host, user, password, dir string, timeout time.Duration, policy ItemErrorPolicy, logger *slog.Logger) *FTPSource {
	if timeout <= 0 {
		timeout = DefaultFTPTimeout
	}
	if user == "" {
		user = "anonymous"
	}
	return &FTPSource{
		Host:     host,
		User:     user,
		Password: password,
		Dir:      dir,
		Timeout:  timeout,
		dial:     dialServer,
		skipper:  skipper{policy: policy, logger: loggerOrDefault(logger)},
	}
}

func (s *FTPSource) Kind() types.SourceKind { return types.SourceRemote }

// Walk opens one session and traverses the remote tree with an explicit
// stack, in the same order as LocalSource.
func (s *FTPSource) Walk(ctx context.Context, fn func(types.Document) error) error {
	s.reset()

	addr := s.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}

	conn, err := s.dial(ctx, addr, s.Timeout)
	if err != nil {
		return fatal(addr, fmt.Errorf("connect: %w", err))
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login(s.User, s.Password); err != nil {
		return fatal(addr, fmt.Errorf("login as %s: %w", s.User, err))
	}

	root := s.Dir
	if root == "" {
		root = "/"
	}

	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := conn.List(dir)
		if err != nil {
			if dir == root {
				return fatal(dir, fmt.Errorf("list: %w", err))
			}
			if err := s.item(dir, err); err != nil {
				return err
			}
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

		var subdirs []string
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			full := path.Join(dir, e.Name)

			switch e.Type {
			case ftp.EntryTypeFolder:
				subdirs = append(subdirs, full)
				continue
			case ftp.EntryTypeFile:
			default:
				continue
			}
			if !isMarkdown(e.Name) {
				continue
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			doc, err := s.fetch(conn, full)
			if err != nil {
				if err := s.item(full, err); err != nil {
					return err
				}
				continue
			}
			if err := fn(doc); err != nil {
				return err
			}
		}

		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return nil
}

func (s *FTPSource) fetch(conn ftpClient, file string) (types.Document, error) {
	r, err := conn.Fetch(file, time.Now().Add(s.Timeout))
	if err != nil {
		return types.Document{}, fmt.Errorf("retrieve: %w", err)
	}
	content, readErr := io.ReadAll(r)
	// The data connection must be closed before the next command
	closeErr := r.Close()
	if err := errors.Join(readErr, closeErr); err != nil {
		return types.Document{}, fmt.Errorf("retrieve: %w", err)
	}
	if !utf8.Valid(content) {
		return types.Document{}, errInvalidUTF8
	}

	ref, body := ParseMarkdown(content)
	return types.Document{
		Reference: ref,
		Body:      body,
		Name:      path.Base(file),
		Source:    types.SourceRemote,
	}, nil
}

// serverConn adapts *ftp.ServerConn to ftpClient.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Fetch(file string, deadline time.Time) (io.ReadCloser, error) {
	resp, err := c.Retr(file)
	if err != nil {
		return nil, err
	}
	if err := resp.SetDeadline(deadline); err != nil {
		_ = resp.Close()
		return nil, err
	}
	return resp, nil
}

func dialServer(ctx context.Context, addr string, timeout time.Duration) (ftpClient, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return serverConn{conn}, nil
}
