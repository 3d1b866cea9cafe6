package client

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/forumdm/internal/rpc"
)

// Client wraps gRPC connections to the daemon.
type Client struct {
	conn    *grpc.ClientConn
	Session *rpc.SessionClient
	Chat    *rpc.ChatClient
	Inbox   *rpc.InboxClient
	Health  healthpb.HealthClient
}

// New dials the daemon's Unix domain socket and returns typed service clients.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}

	return &Client{
		conn:    conn,
		Session: rpc.NewSessionClient(conn),
		Chat:    rpc.NewChatClient(conn),
		Inbox:   rpc.NewInboxClient(conn),
		Health:  healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
