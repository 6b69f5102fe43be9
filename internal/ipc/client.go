package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop stops the daemon. The process exits shortly after replying.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Send delivers a message. A failed delivery is reported in the result, not
// as an error.
func (c *Client) Send(req SendRequest) (*SendResponse, error) {
	return call[SendResponse](c, "Send", req)
}

// Resend delivers an earlier message again under a new id.
func (c *Client) Resend(id string) (*SendResponse, error) {
	return call[SendResponse](c, "Resend", ResendRequest{ID: id})
}

// Messages lists the history, optionally for one peer.
func (c *Client) Messages(peer string) (*MessagesResponse, error) {
	return call[MessagesResponse](c, "Messages", MessagesRequest{Peer: peer})
}

// DeleteMessage removes one message from the history.
func (c *Client) DeleteMessage(id string) (*DeleteMessageResponse, error) {
	return call[DeleteMessageResponse](c, "DeleteMessage", DeleteMessageRequest{ID: id})
}

// Contacts lists the address book.
func (c *Client) Contacts() (*ContactsResponse, error) {
	return call[ContactsResponse](c, "Contacts", ContactsRequest{})
}

// AddContact stores or renames a contact.
func (c *Client) AddContact(address, name string) (*ContactResponse, error) {
	return call[ContactResponse](c, "AddContact", ContactRequest{Address: address, Name: name})
}

// EditContact renames an existing contact.
func (c *Client) EditContact(address, name string) (*ContactResponse, error) {
	return call[ContactResponse](c, "EditContact", ContactRequest{Address: address, Name: name})
}

// DeleteContact removes a contact.
func (c *Client) DeleteContact(address string) (*ContactResponse, error) {
	return call[ContactResponse](c, "DeleteContact", ContactRequest{Address: address})
}

// TorStart launches the supervised Tor daemon.
func (c *Client) TorStart() (*TorResponse, error) {
	return call[TorResponse](c, "TorStart", TorRequest{})
}

// TorStop stops the supervised Tor daemon.
func (c *Client) TorStop() (*TorResponse, error) {
	return call[TorResponse](c, "TorStop", TorRequest{})
}

// TorStatus reports the supervised Tor daemon.
func (c *Client) TorStatus() (*TorResponse, error) {
	return call[TorResponse](c, "TorStatus", TorRequest{})
}

// Circuits lists built Tor circuits.
func (c *Client) Circuits() (*CircuitsResponse, error) {
	return call[CircuitsResponse](c, "Circuits", CircuitsRequest{})
}

// ResetIdentity discards the onion key and returns the new address if Tor
// published one.
func (c *Client) ResetIdentity() (*ResetIdentityResponse, error) {
	return call[ResetIdentityResponse](c, "ResetIdentity", ResetIdentityRequest{})
}

// TestNotification pushes a test notice through the configured topic.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}
