package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 64
	receiveChanSize = 64

	// The time given to queued replies to be sent once a client is being
	// disconnected.
	flushTimeout = time.Second
)

// Receiver reads the next frame from a connection. It returns the number of
// bytes read.
type Receiver func() (Frame, int, error)

// Sender writes a reply to a connection. It returns the number of bytes
// written.
type Sender func(Reply) (int, error)

// Handler represents a point stream handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a frame of points.
	HandleFrame(ctx context.Context, respond func(Reply), f Frame) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a frame receiver used to receive incoming frames.
	Receiver() Receiver

	// Creates a reply sender passed in service methods in order to send
	// replies.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// The id of the connected client.
	GetClientID() string

	// The id of the tree the client streams into.
	GetTreeID() string
}

// Handle handles the given connection until the client disconnects, becomes
// idle or the context is canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The stream handler.
	Handler Handler

	sendChan       chan Reply
	receiveChan    chan Frame
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	h.sendChan = make(chan Reply, sendChanSize)
	h.sender = h.Handler.Sender()

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		h.startSending()
	}()

	var wg sync.WaitGroup

	h.receiveChan = make(chan Frame, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	var err error
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()

		case <-idleTimer.C:
			err = errors.New("idle connection").WithTag("duration", idleTimeout)

		case f := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if frameErr := h.Handler.HandleFrame(ctx, h.send, f); frameErr != nil {
				err = errors.New("handling frame failed").Wrap(frameErr)
			}

		case err = <-h.disconnectChan:
		}
	}

	// Replies queued before the disconnection, such as the error reply of
	// the frame that caused it, are flushed before the connection closes.
	close(h.sendChan)
	select {
	case <-sendDone:
	case <-time.After(flushTimeout):
	}

	cancel()
	h.handleDisconnect(err)
	wg.Wait()
	<-sendDone
}

// send queues a reply. It must only be called from the goroutine running
// Handle.
func (h *handler) send(r Reply) {
	select {
	case h.sendChan <- r:
	default:
		h.disconnect(errors.New("client is too slow to read replies").
			WithTag("queued_replies", len(h.sendChan)))
	}
}

func (h *handler) startSending() {
	for r := range h.sendChan {
		if _, err := h.sender(r); err != nil {
			h.disconnect(errors.New("sending reply failed").Wrap(err))

			for range h.sendChan {
			}
			return
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		f, _, err := h.receiver()
		if err != nil {
			h.disconnect(errors.New("receiving frame failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return

		case h.receiveChan <- f:
		}
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}
