package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/spatialtree/models"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv starts a stream server backed by trees and returns a function
// that dials it for the given tree id, along with a function that closes the
// server.
func NewTestingEnv(t *testing.T, trees *models.TreeStore, newHandler func() Handler) (func(treeID string) (*websocket.Conn, error), func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	server := httptest.NewServer(websocket.Server{
		Handshake: VerifyTree(trees),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	dial := func(treeID string) (*websocket.Conn, error) {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://")+"/?"+TreeParam+"="+treeID,
			"http://localhost",
		)
		if err != nil {
			return nil, err
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set(ClientIDHeader, "client-"+treeID)
		return websocket.DialConfig(config)
	}

	return dial, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		server.Close()
	}
}

func newTestHandler(trees *models.TreeStore, configure ...func(*StreamHandler)) func() Handler {
	return func() Handler {
		sh := &StreamHandler{
			ClientIdleTimeout: time.Minute,
			Trees:             trees,
		}
		for _, c := range configure {
			c(sh)
		}

		var h Handler = sh
		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h)
		return h
	}
}
