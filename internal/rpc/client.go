package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client dials a single Server connection and issues framed JSON-RPC calls
// against it, one at a time.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to a Server listening at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call issues method with params marshaled as JSON and unmarshals the
// result into result (which may be nil to discard it).
func (c *Client) Call(method string, params interface{}, result interface{}) error {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpc: marshal params: %w", err)
		}
		rawParams = encoded
	}

	// A fresh UUID per call keeps JSON-RPC ids unique across reconnects
	// with no persisted counter.
	req := Request{JSONRPC: "2.0", Method: method, Params: rawParams, ID: uuid.New().String()}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if err := writeLengthPrefixed(c.conn, reqBytes); err != nil {
		return fmt.Errorf("rpc: send request: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	respBytes, err := readLengthPrefixed(c.reader)
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return fmt.Errorf("rpc: parse response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("rpc: server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if result == nil {
		return nil
	}

	resultBytes, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("rpc: re-marshal result: %w", err)
	}
	return json.Unmarshal(resultBytes, result)
}
