// Package transport builds the retrying HTTP clients used to talk to
// WebHDFS, Elasticsearch and Kubernetes.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hopsworks/expat/internal/fault"
	"go.uber.org/zap"
)

// Options configure a client.
type Options struct {
	// CAFile is a PEM bundle trusted in addition to nothing else.
	CAFile string
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// NoRedirect hands redirects back to the caller.
	NoRedirect bool
}

// DefaultOptions retry three times with a one minute attempt timeout.
func DefaultOptions() Options {
	return Options{RetryMax: 3, Timeout: time.Minute}
}

// New returns a retrying client that logs through log.
func New(log *zap.Logger, opts Options) (*retryablehttp.Client, error) {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = leveled{log.Sugar()}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	hc := c.HTTPClient
	hc.Timeout = opts.Timeout
	if opts.NoRedirect {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fault.Configuration.New("failed to read CA file: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fault.Configuration.New("no certificates found in %s", opts.CAFile)
		}
		tr, ok := hc.Transport.(*http.Transport)
		if !ok {
			return nil, fmt.Errorf("unexpected transport %T", hc.Transport)
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return c, nil
}

// Classify tags transport level failures (refused connections, timeouts,
// DNS errors, exhausted retries) as fault.Connectivity.
func Classify(err error) error {
	if err == nil || fault.Connectivity.Has(err) {
		return err
	}
	var (
		urlErr *url.Error
		netErr net.Error
	)
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fault.Connectivity.Wrap(err)
	}
	return err
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct {
	s *zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
