package ui_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mergequeue/internal/collaborators/ui"
	"github.com/r3e-network/mergequeue/internal/identity"
	"github.com/r3e-network/mergequeue/internal/pipeline"
)

func TestHubBroadcastsStatusToConnectedClient(t *testing.T) {
	hub := ui.NewHub(nil)
	stop := make(chan struct{})
	defer close(stop)
	go hub.Run(stop)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Register(conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	notifier := ui.NewNotifier(hub)

	require.Eventually(t, func() bool {
		err := notifier.SendStatus(1, identity.NewPr("acme", "widget", 7, identity.Remote("origin")), pipeline.Status{
			Kind: pipeline.StatusSuccess,
		})
		require.NoError(t, err)

		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		return strings.Contains(string(data), "acme/widget#7") && strings.Contains(string(data), "success")
	}, 2*time.Second, 50*time.Millisecond)
}
