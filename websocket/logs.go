package websocket

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

// HandlerWithLogs logs the connection lifecycle of h and, every
// summaryInterval, the number of frames and points it received.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	frames             int
	points             int
	rejected           int
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	logs.WithTag("client_id", h.GetClientID()).
		WithTag("tree_id", h.GetTreeID()).
		WithTag("user_agent", req.UserAgent()).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleFrame(ctx context.Context, respond func(Reply), f Frame) error {
	return h.Handler.HandleFrame(ctx, func(r Reply) {
		h.counterMutex.Lock()
		h.frames++
		h.points += r.Inserted
		if r.Error != nil || !r.AllInside {
			h.rejected++
		}
		h.counterMutex.Unlock()

		if r.Error != nil {
			logs.WithTag("client_id", h.GetClientID()).
				WithTag("tree_id", h.GetTreeID()).
				WithTag("request_id", f.RequestID).
				WithTag("error_type", r.Error.Type).
				Debug(r.Error.Message)
		}
		respond(r)
	}, f)
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag("client_id", h.GetClientID()).
		WithTag("tree_id", h.GetTreeID())

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, context.Canceled) {
		entry.WithTag("reason", err.Error()).Info("client disconnected")
		return
	}
	entry.Info("client disconnected")
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if h.frames == 0 {
		return
	}

	logs.WithTag("client_id", h.GetClientID()).
		WithTag("tree_id", h.GetTreeID()).
		WithTag("time_interval", h.summaryInterval).
		WithTag("frames", h.frames).
		WithTag("inserted_points", h.points).
		WithTag("incomplete_frames", h.rejected).
		Info("inbound frame summary")

	h.frames = 0
	h.points = 0
	h.rejected = 0
}
