package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")

// Transport is the outbound surface of a chat platform.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (MessageHandle, error)
	// EditMessage replaces the text of a sent message. Editing to the text the
	// message already shows is a no-op.
	EditMessage(ctx context.Context, handle MessageHandle, text string) error
	DeleteMessage(ctx context.Context, handle MessageHandle) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	SendPhoto(ctx context.Context, chatID int64, path, caption string) error
	DownloadToPath(ctx context.Context, file FileHandle, destPath string, onProgress ProgressFunc) (string, error)
	UploadFile(ctx context.Context, chatID int64, req UploadRequest, onProgress ProgressFunc) error
}

// MembershipChecker reports whether a user belongs to a channel. channelRef is
// a public username without "@" or a numeric chat id.
type MembershipChecker interface {
	IsMember(ctx context.Context, channelRef string, userID int64) (bool, error)
}

// InboundHandler consumes the events a Receiver delivers. Each call may run on
// its own goroutine.
type InboundHandler interface {
	HandleFile(ctx context.Context, ev FileArrived) error
	HandleButton(ctx context.Context, ev ButtonTapped) error
	HandleReply(ctx context.Context, ev TextReplied) error
	HandleCommand(ctx context.Context, ev CommandIssued) error
	HandlePhoto(ctx context.Context, ev PhotoArrived) error
}

// Receiver is an adapter capable of establishing a long-lived connection to receive events.
type Receiver interface {
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// Connection represents an active, long-lived link to a channel platform.
type Connection interface {
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// ConnectionStatus is a point-in-time view of one connection.
type ConnectionStatus struct {
	ChannelType ChannelType
	Running     bool
	LastError   string
	UpdatedAt   time.Time
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool

	mu        sync.Mutex
	lastError string
	updatedAt time.Time
}

// NewConnection creates a BaseConnection for the given type and stop function.
func NewConnection(channelType ChannelType, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		channelType: channelType,
		stop:        stop,
		updatedAt:   time.Now().UTC(),
	}
	conn.running.Store(true)
	return conn
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.running.Store(false)
	c.touch("")
	return c.stop(ctx)
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}

// MarkStopped records that the connection ended on its own.
func (c *BaseConnection) MarkStopped(cause error) {
	c.running.Store(false)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	c.touch(msg)
}

// Status returns a snapshot of the connection state.
func (c *BaseConnection) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionStatus{
		ChannelType: c.channelType,
		Running:     c.running.Load(),
		LastError:   c.lastError,
		UpdatedAt:   c.updatedAt,
	}
}

func (c *BaseConnection) touch(lastError string) {
	c.mu.Lock()
	c.lastError = lastError
	c.updatedAt = time.Now().UTC()
	c.mu.Unlock()
}
