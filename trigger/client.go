package trigger

import (
	"time"

	"go.uber.org/multierr"

	"go.viam.com/icon/futex"
	"go.viam.com/icon/shmem"
)

// Client triggers a remote Server and waits for its callback to complete.
// A Client is not safe for concurrent use; the futex pair carries exactly
// one in-flight request.
type Client struct {
	baseName string
	request  *futex.Futex
	response *futex.Futex
	reqSeg   *shmem.ReadWriteSegment
	resSeg   *shmem.ReadWriteSegment
}

// NewClient attaches to the futex pair a Server created under baseName.
// Both segments are mapped writable since waiting on a futex mutates the
// word.
func NewClient(fdMap shmem.SegmentNameToFileDescriptorMap, baseName string) (*Client, error) {
	reqSeg, err := shmem.OpenReadWrite(fdMap, baseName+RequestSuffix)
	if err != nil {
		return nil, err
	}
	resSeg, err := shmem.OpenReadWrite(fdMap, baseName+ResponseSuffix)
	if err != nil {
		return nil, multierr.Combine(err, reqSeg.Close())
	}
	request, err := futex.New(reqSeg.Value())
	if err != nil {
		return nil, multierr.Combine(err, reqSeg.Close(), resSeg.Close())
	}
	response, err := futex.New(resSeg.Value())
	if err != nil {
		return nil, multierr.Combine(err, reqSeg.Close(), resSeg.Close())
	}
	return &Client{
		baseName: baseName,
		request:  request,
		response: response,
		reqSeg:   reqSeg,
		resSeg:   resSeg,
	}, nil
}

// Trigger posts a request and blocks until the server signals completion or
// the timeout elapses. Returns DeadlineExceeded if the server did not
// respond in time and Aborted if the server closed the futex pair.
func (c *Client) Trigger(timeout time.Duration) error {
	if err := c.request.Post(); err != nil {
		return err
	}
	return c.response.WaitFor(timeout)
}

// Close detaches from the futex pair.
func (c *Client) Close() error {
	return multierr.Combine(c.reqSeg.Close(), c.resSeg.Close())
}
