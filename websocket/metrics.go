package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel = "error_type"
	resultLabel  = "result"
)

var (
	wsConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	})

	wsReceivedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_received_frames",
		Help: "The number of frames received from WebSocket connections.",
	})

	wsReceivedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_received_bytes",
		Help: "The number of bytes received from WebSocket connections.",
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors",
		Help: "The errors that occured while receiving a websocket frame.",
	}, []string{errTypeLabel})

	wsSentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_send_errors",
		Help: "The errors that occured while sending a websocket reply.",
	}, []string{errTypeLabel})

	wsFrameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ws_frame_latency",
		Help: "The time to process a WebSocket frame.",
	}, []string{resultLabel})
)

// HandlerWithMetrics instruments h with prometheus metrics.
func HandlerWithMetrics(h Handler) Handler {
	return &handlerWithMetrics{
		Handler: h,
	}
}

type handlerWithMetrics struct {
	Handler
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	wsConnectedClients.Inc()
	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	wsConnectedClients.Dec()
	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) HandleFrame(ctx context.Context, respond func(Reply), f Frame) error {
	start := time.Now()
	result := "ok"

	err := h.Handler.HandleFrame(ctx, func(r Reply) {
		if r.Error != nil {
			result = r.Error.Type
		}
		respond(r)
	}, f)

	wsFrameLatency.
		With(prometheus.Labels{resultLabel: result}).
		Observe(time.Since(start).Seconds())
	return err
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Frame, int, error) {
		f, n, err := receive()
		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{errTypeLabel: errors.Type(err)}).
				Inc()
		} else {
			wsReceivedFrames.Inc()
		}

		if n != 0 {
			wsReceivedBytes.Add(float64(n))
		}
		return f, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	sender := h.Handler.Sender()

	return func(r Reply) (int, error) {
		n, err := sender(r)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{errTypeLabel: errors.Type(err)}).
				Inc()
		}

		if n != 0 {
			wsSentBytes.Add(float64(n))
		}
		return n, err
	}
}
