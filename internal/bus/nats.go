// Package bus publishes job progress events to NATS so external
// consumers can follow runs without tailing the JSONL stream.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hina0118/mailbatch/pkg/progress"
)

type Client struct{ nc *nats.Conn }

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// Healthy reports whether the underlying connection is established.
func (c *Client) Healthy() bool {
	return c.nc != nil && c.nc.Status() == nats.CONNECTED
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// controlPrefix roots the control-plane subjects, separate from the
// event subjects so consumers can subscribe to one without the other.
const controlPrefix = "mailbatch.control"

// CancelRequest asks the process running a job type to stop at its next
// chunk boundary.
type CancelRequest struct {
	JobType     string    `json:"job_type"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// CancelSubject returns the control subject for a job type's cancel
// requests.
func CancelSubject(jobType string) string {
	return controlPrefix + "." + jobType + ".cancel"
}

// PublishCancel broadcasts a cancel request for the job type and
// flushes so the caller knows the server accepted it.
func (c *Client) PublishCancel(jobType, reason string) error {
	req := CancelRequest{
		JobType:     jobType,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}
	if err := c.PublishJSON(CancelSubject(jobType), req); err != nil {
		return err
	}
	return c.nc.FlushTimeout(2 * time.Second)
}

// SubscribeCancel delivers cancel requests for one job type. Malformed
// messages are dropped.
func (c *Client) SubscribeCancel(jobType string, handler func(CancelRequest)) (*nats.Subscription, error) {
	return c.SubscribeJSON(CancelSubject(jobType), func(_ context.Context, data []byte) {
		var req CancelRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		handler(req)
	})
}

// Emitter adapts a Client into a progress.Emitter bound to one run.
// Each event is published under <prefix>.<channel>.<type>; delivery is
// fire and forget like every other emitter.
type Emitter struct {
	client  *Client
	jobID   string
	channel string
	prefix  string
}

var _ progress.Emitter = (*Emitter)(nil)

// NewEmitter wraps client for the given run and event channel. prefix
// defaults to "mailbatch.events" when empty. The emitter does not own
// the client; Close is a no-op on the connection.
func NewEmitter(client *Client, jobID, channel, prefix string) *Emitter {
	if prefix == "" {
		prefix = "mailbatch.events"
	}
	return &Emitter{client: client, jobID: jobID, channel: channel, prefix: prefix}
}

func (e *Emitter) publish(eventType, recordType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return &progress.EmitError{Op: "marshal_data", Err: err}
	}
	rec := progress.Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		JobID:   e.jobID,
		Channel: e.channel,
		Data:    payload,
	}
	subject := e.prefix + "." + e.channel + "." + eventType
	if err := e.client.PublishJSON(subject, rec); err != nil {
		return &progress.EmitError{Op: "publish", Err: err}
	}
	return nil
}

func (e *Emitter) EmitProgress(_ context.Context, prog *progress.ProgressRecord) error {
	return e.publish("progress", progress.TypeProgress, prog)
}

func (e *Emitter) EmitComplete(_ context.Context, comp *progress.CompleteRecord) error {
	return e.publish("complete", progress.TypeComplete, comp)
}

func (e *Emitter) EmitError(_ context.Context, errRec *progress.ErrorRecord) error {
	return e.publish("error", progress.TypeError, errRec)
}

func (e *Emitter) EmitCancelled(_ context.Context, canc *progress.CancelledRecord) error {
	return e.publish("cancelled", progress.TypeCancelled, canc)
}

// Close satisfies progress.Emitter without draining the shared client.
func (e *Emitter) Close() error { return nil }
