package rpc

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/zecwire/zecd/internal/logger"
	"github.com/zecwire/zecd/pkg/checkpoint"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Indexer fans ChainTipChanged notifications out to any number of
// subscribed websocket clients. Delivery is best-effort: a client reading
// too slowly is disconnected rather than allowed to block the broadcast.
type Indexer struct {
	log *logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan ChainTipChanged
}

// NewIndexer builds an empty Indexer.
func NewIndexer(log *logger.Logger) *Indexer {
	return &Indexer{
		log:     log,
		clients: make(map[*websocket.Conn]chan ChainTipChanged),
	}
}

// ServeHTTP upgrades the connection and registers it as a subscriber until
// the client disconnects.
func (idx *Indexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		idx.log.WithField("error", err).Debug("indexer websocket upgrade failed")
		return
	}

	ch := make(chan ChainTipChanged, 16)
	idx.mu.Lock()
	idx.clients[conn] = ch
	idx.mu.Unlock()

	defer func() {
		idx.mu.Lock()
		delete(idx.clients, conn)
		idx.mu.Unlock()
		conn.Close()
	}()

	for tip := range ch {
		if err := conn.WriteJSON(tip); err != nil {
			return
		}
	}
}

// Broadcast sends tip to every connected client without blocking on any
// single one: a client whose buffer is full is dropped.
func (idx *Indexer) Broadcast(tip ChainTipChanged) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for conn, ch := range idx.clients {
		select {
		case ch <- tip:
		default:
			idx.log.WithField("remote", conn.RemoteAddr()).Warn("indexer client too slow, dropping")
			delete(idx.clients, conn)
			close(ch)
		}
	}
}

// observerAdapter adapts Indexer into a checkpoint.Observer that broadcasts a
// ChainTipChanged event every time verified progress advances.
type observerAdapter struct {
	indexer *Indexer
	last    *ChainTipChanged // last tip broadcast, so repeats are skipped
}

// NewProgressBroadcaster wraps idx as a checkpoint.Observer.
func NewProgressBroadcaster(idx *Indexer) checkpoint.Observer {
	return &observerAdapter{indexer: idx}
}

func (o *observerAdapter) ObservePendingDepth(int) {}

func (o *observerAdapter) ObserveProgress(p checkpoint.Progress) {
	var tip ChainTipChanged
	if h, ok := p.PreviousHeight(); ok {
		tip = ChainTipChanged{Height: uint32(h), Final: p.IsFinal()}
	} else if p.IsFinal() {
		tip = ChainTipChanged{Final: true}
	} else {
		return
	}
	if o.last != nil && *o.last == tip {
		return
	}
	o.last = &tip
	o.indexer.Broadcast(tip)
}

func (o *observerAdapter) ObserveResolution(error) {}

var _ checkpoint.Observer = (*observerAdapter)(nil)
