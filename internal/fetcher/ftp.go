package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/resilience"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout    time.Duration
	MaxRetries int
}

// FTPFetcher downloads files over FTP, anonymously unless the URL carries
// credentials.
type FTPFetcher struct {
	opts   FTPOptions
	policy resilience.Policy
}

// NewFTPFetcher applies defaults to opts.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	policy := resilience.DefaultPolicy().WithAttempts(opts.MaxRetries)
	policy.Operation = "ftp download"
	return &FTPFetcher{opts: opts, policy: policy}
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return ftpTarget{}, eris.New("fetcher: empty path in ftp url")
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", password: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

// ftpBody closes the transfer and the control connection together.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Read(p []byte) (int, error) { return b.resp.Read(p) }

func (b *ftpBody) Close() error {
	respErr := b.resp.Close()
	quitErr := b.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp transfer")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp connection")
	}
	return nil
}

// Download opens the remote file. Closing the reader releases the connection.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	target, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("fetcher: ftp connect",
		zap.String("component", "fetcher"),
		zap.String("host", target.host),
		zap.String("path", target.path),
	)

	return resilience.RetryValue(ctx, f.policy, func(ctx context.Context) (io.ReadCloser, error) {
		conn, err := ftp.Dial(target.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: ftp dial")
		}
		if err := conn.Login(target.user, target.password); err != nil {
			_ = conn.Quit()
			return nil, eris.Wrap(err, "fetcher: ftp login")
		}
		resp, err := conn.Retr(target.path)
		if err != nil {
			_ = conn.Quit()
			return nil, eris.Wrap(err, "fetcher: ftp retrieve")
		}
		return &ftpBody{resp: resp, conn: conn}, nil
	})
}

// DownloadToFile retrieves the remote file into path.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	return saveTo(ctx, f, rawURL, path)
}
