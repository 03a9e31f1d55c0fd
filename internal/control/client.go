package control

import (
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/minisv/minisv/internal/core"
	"github.com/minisv/minisv/internal/errs"
)

// DialTimeout bounds how long a CLI invocation waits for the supervisor
// to accept a connection before reporting it unreachable (spec §6 exit
// code 4: "control channel unreachable").
const DialTimeout = 2 * time.Second

// Client is a thin one-shot dialer: every call opens a fresh
// connection, sends one request, reads one reply, and closes — there
// is no persistent client state to manage between CLI invocations.
type Client struct {
	path string
}

// NewClient targets the socket at path (DefaultSocketPath if empty).
func NewClient(path string) *Client {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Client{path: path}
}

func (c *Client) roundTrip(env Envelope) (ReplyEnvelope, error) {
	conn, err := net.DialTimeout("unix", c.path, DialTimeout)
	if err != nil {
		return ReplyEnvelope{}, fmt.Errorf("%w: %v", errs.ControlProtocolError, err)
	}
	defer conn.Close()

	env.ID = uuid.New()
	if err := gob.NewEncoder(conn).Encode(&env); err != nil {
		return ReplyEnvelope{}, fmt.Errorf("%w: %v", errs.ControlProtocolError, err)
	}

	var out ReplyEnvelope
	if err := gob.NewDecoder(conn).Decode(&out); err != nil {
		return ReplyEnvelope{}, fmt.Errorf("%w: %v", errs.ControlProtocolError, err)
	}
	if out.ID != env.ID {
		return ReplyEnvelope{}, fmt.Errorf("%w: reply id mismatch", errs.ControlProtocolError)
	}
	return out, nil
}

func (c *Client) call(env Envelope) (core.Status, error) {
	out, err := c.roundTrip(env)
	if err != nil {
		return core.Status{}, err
	}
	if out.ErrMsg != "" {
		return core.Status{}, errors.New(out.ErrMsg)
	}
	return out.Status, nil
}

// Start requests core.ReqStart for name.
func (c *Client) Start(name string) error {
	_, err := c.call(Envelope{Kind: core.ReqStart, Name: name})
	return err
}

// Stop requests core.ReqStop for name.
func (c *Client) Stop(name string) error {
	_, err := c.call(Envelope{Kind: core.ReqStop, Name: name})
	return err
}

// Status requests core.ReqStatus for name.
func (c *Client) Status(name string) (core.Status, error) {
	return c.call(Envelope{Kind: core.ReqStatus, Name: name})
}

// Switch requests core.ReqSwitch to level.
func (c *Client) Switch(level int) error {
	_, err := c.call(Envelope{Kind: core.ReqSwitch, Level: level})
	return err
}

// Reload requests core.ReqReload.
func (c *Client) Reload() error {
	_, err := c.call(Envelope{Kind: core.ReqReload})
	return err
}
