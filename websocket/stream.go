package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/spatialtree/featureflag"
	"github.com/aukilabs/spatialtree/models"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	// The query parameter holding the id of the tree to stream into.
	TreeParam = "tree"

	// The header a client can use to identify itself.
	ClientIDHeader = "X-Client-ID"

	ErrTypeInvalidFrame = "invalid_frame"

	// The idle timeout used when StreamHandler.ClientIdleTimeout is not set.
	DefaultIdleTimeout = time.Minute * 5
)

// Frame is a batch of points sent by a client.
type Frame struct {
	// An optional id echoed in the reply.
	RequestID uint32 `json:"request_id,omitempty"`

	Points [][]float64 `json:"points"`
}

// Reply is the answer to a frame.
type Reply struct {
	RequestID uint32      `json:"request_id,omitempty"`
	Inserted  int         `json:"inserted"`
	AllInside bool        `json:"all_inside"`
	Error     *ErrorReply `json:"error,omitempty"`
}

type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// VerifyTree rejects the handshake of clients that do not target an existing
// tree.
func VerifyTree(trees *models.TreeStore) func(*websocket.Config, *http.Request) error {
	return func(c *websocket.Config, r *http.Request) error {
		_, err := trees.Get(r.URL.Query().Get(TreeParam))
		return err
	}
}

// StreamHandler inserts the points streamed by a client into a tree.
type StreamHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The store that contains the trees.
	Trees *models.TreeStore

	// The maximum number of points accepted in a frame. No limit when 0.
	MaxPointsPerFrame int

	FeatureFlags featureflag.FeatureFlag

	conn     *websocket.Conn
	clientID string
	treeID   string
}

func (h *StreamHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()

	h.clientID = req.Header.Get(ClientIDHeader)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
	h.treeID = req.URL.Query().Get(TreeParam)
	h.conn = conn
}

func (h *StreamHandler) HandleFrame(ctx context.Context, respond func(Reply), f Frame) error {
	tree, err := h.Trees.Get(h.treeID)
	if err != nil {
		// The tree was removed while the client was streaming.
		respond(errorReply(f.RequestID, err))
		return err
	}

	if h.MaxPointsPerFrame > 0 && len(f.Points) > h.MaxPointsPerFrame {
		respond(errorReply(f.RequestID, errors.New("too many points").
			WithType(ErrTypeInvalidFrame).
			WithTag("points", len(f.Points)).
			WithTag("max_points", h.MaxPointsPerFrame)))
		return nil
	}

	res, err := tree.Insert(f.Points)
	if err != nil {
		respond(errorReply(f.RequestID, err))
		return nil
	}

	h.FeatureFlags.IfSet(featureflag.FlagAutoCullAfterBatch, func() {
		tree.Cull()
	})

	respond(Reply{
		RequestID: f.RequestID,
		Inserted:  res.Inserted,
		AllInside: res.AllInside,
	})
	return nil
}

func (h *StreamHandler) HandleDisconnect(err error) {
}

func (h *StreamHandler) Receiver() Receiver {
	return func() (Frame, int, error) {
		var data []byte
		if err := websocket.Message.Receive(h.conn, &data); err != nil {
			return Frame{}, 0, err
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return Frame{}, len(data), errors.New("decoding frame failed").
				WithType(ErrTypeInvalidFrame).
				Wrap(err)
		}
		return f, len(data), nil
	}
}

func (h *StreamHandler) Sender() Sender {
	return func(r Reply) (int, error) {
		b, err := json.Marshal(r)
		if err != nil {
			return 0, err
		}

		// Sent as a string to produce a text frame.
		if err := websocket.Message.Send(h.conn, string(b)); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}

func (h *StreamHandler) Close() {
}

func (h *StreamHandler) IdleTimeout() time.Duration {
	if h.ClientIdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return h.ClientIdleTimeout
}

func (h *StreamHandler) GetClientID() string {
	return h.clientID
}

func (h *StreamHandler) GetTreeID() string {
	return h.treeID
}

func errorReply(requestID uint32, err error) Reply {
	return Reply{
		RequestID: requestID,
		Error: &ErrorReply{
			Type:    errors.Type(err),
			Message: err.Error(),
		},
	}
}
