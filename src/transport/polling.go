package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/valyala/fasthttp"
)

var errTransportClosed = errors.New("transport closed")

// pollingConn carries packets over HTTP long-polling.
type pollingConn struct {
	d       *Dialer
	headers map[string]string
	urlFor  func() string

	writeMu   sync.Mutex
	mu        sync.Mutex
	pending   []Packet
	done      chan struct{}
	closeOnce sync.Once
}

func newPollingConn(d *Dialer, headers map[string]string, urlFor func() string) *pollingConn {
	return &pollingConn{
		d:       d,
		headers: headers,
		urlFor:  urlFor,
		done:    make(chan struct{}),
	}
}

func (p *pollingConn) transport() types.Transport { return types.TransportPolling }

func (p *pollingConn) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *pollingConn) read(ctx context.Context) ([]Packet, error) {
	if p.isClosed() {
		return nil, errTransportClosed
	}
	p.mu.Lock()
	if len(p.pending) > 0 {
		out := p.pending
		p.pending = nil
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	status, body, err := p.d.poll(ctx, p.done, fasthttp.MethodGet, p.urlFor(), p.headers, "")
	if err != nil {
		return nil, err
	}
	if status != fasthttp.StatusOK {
		return nil, types.NewError(types.KindProtocol, fmt.Sprintf("poll rejected with HTTP %d: %s", status, trimBody(body)), nil)
	}
	packets, err := DecodePayload(body)
	if err != nil {
		return nil, types.NewError(types.KindProtocol, "malformed poll payload", err)
	}
	return packets, nil
}

func (p *pollingConn) write(packets ...Packet) error {
	if p.isClosed() {
		return errTransportClosed
	}

	// Engine.IO forbids concurrent POSTs on one session.
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	status, body, err := p.d.poll(context.Background(), p.done, fasthttp.MethodPost, p.urlFor(), p.headers, EncodePayload(packets...))
	if err != nil {
		return err
	}
	if status != fasthttp.StatusOK {
		return types.NewError(types.KindProtocol, fmt.Sprintf("post rejected with HTTP %d: %s", status, trimBody(body)), nil)
	}
	return nil
}

// close ends the session locally. A request still in flight returns
// errTransportClosed at once and finishes in the background within the
// poll timeout.
func (p *pollingConn) close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

type pollResult struct {
	status int
	body   string
	err    error
}

// poll performs one polling request that returns early when ctx ends or
// done is closed. fasthttp requests cannot be cancelled, so the request runs
// on its own goroutine bounded by the poll deadline.
func (d *Dialer) poll(ctx context.Context, done <-chan struct{}, method, uri string, headers map[string]string, body string) (int, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	deadline := pollDeadline(ctx, d.pollTimeout)
	res := make(chan pollResult, 1)
	go func() {
		status, b, err := d.doPoll(method, uri, headers, body, deadline)
		res <- pollResult{status: status, body: b, err: err}
	}()

	select {
	case r := <-res:
		return r.status, r.body, r.err
	case <-done:
		return 0, "", errTransportClosed
	case <-ctx.Done():
		return 0, "", ctx.Err()
	}
}

// doPoll performs one polling request and returns the status and body.
func (d *Dialer) doPoll(method, uri string, headers map[string]string, body string, deadline time.Time) (int, string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != "" {
		req.Header.SetContentType("text/plain;charset=UTF-8")
		req.SetBodyString(body)
	}
	if err := d.http.DoDeadline(req, resp, deadline); err != nil {
		return 0, "", err
	}
	return resp.StatusCode(), string(resp.Body()), nil
}

func pollDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}
