package ledger_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradesim/ledger-engine/internal/ledger"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	return conn
}

func TestWSHub_BroadcastSurvivesDisconnect(t *testing.T) {
	hub := ledger.NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	live := dialWS(t, srv)
	defer live.Close()
	dead := dialWS(t, srv)

	// Kill one client, then broadcast from several goroutines at once. The
	// hub must drop the dead connection while its per-connection goroutines
	// are still reading membership.
	dead.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				hub.Broadcast(ledger.WSMessage{
					Type:          "transaction_executed",
					TransactionID: "t1",
					UserID:        "user1",
					TxType:        "BUY",
					Quantity:      1,
					Price:         "100",
				})
			}
		}()
	}
	wg.Wait()

	live.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ledger.WSMessage
	if err := live.ReadJSON(&msg); err != nil {
		t.Fatalf("live client received nothing: %v", err)
	}
	if msg.Type != "transaction_executed" {
		t.Errorf("unexpected message type %q", msg.Type)
	}
	if msg.UserID != "user1" {
		t.Errorf("unexpected user_id %q", msg.UserID)
	}
}
