package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Streamer ingests prices over the upstream websocket channel. Priority
// symbols are subscribed before Connect returns; the remaining universe is
// subscribed in the background so startup is not blocked on a long catalog.
type Streamer struct {
	URL      string // wss endpoint; metaapi.StreamURL(region) in production
	Token    string
	Catalog  *Catalog
	Cache    *Cache
	OnUpdate func(Quote)
	OnState  func(connected bool)

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	lastState *bool
}

type streamSubscribe struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type streamMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Connect dials the websocket and subscribes the priority symbols.
func (s *Streamer) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("auth-token", s.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, header)
	if err != nil {
		return fmt.Errorf("dial price stream: %w", err)
	}
	s.conn = conn

	for _, symbol := range s.Catalog.Priority {
		if err := s.subscribe(symbol); err != nil {
			s.close()
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}
	s.setState(true)

	// Remaining universe in the background; failures there degrade coverage
	// but do not tear down the stream.
	go func() {
		priority := make(map[string]bool, len(s.Catalog.Priority))
		for _, sym := range s.Catalog.Priority {
			priority[sym] = true
		}
		for _, symbol := range s.Catalog.All() {
			if priority[symbol] {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := s.subscribe(symbol); err != nil {
				log.Printf("[market] subscribe %s: %v", symbol, err)
				return
			}
		}
	}()

	return nil
}

// Run reads price messages until ctx is cancelled or the stream drops.
func (s *Streamer) Run(ctx context.Context) {
	defer s.close()
	go func() {
		<-ctx.Done()
		s.close()
	}()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			log.Printf("[market] stream read error: %v", err)
			return
		}

		var parsed streamMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			log.Printf("[market] stream parse error: %v", err)
			continue
		}
		if parsed.Type != "price" || (parsed.Bid == 0 && parsed.Ask == 0) {
			continue
		}

		q := NewQuote(parsed.Symbol, parsed.Bid, parsed.Ask)
		if s.Cache.Put(q) && s.OnUpdate != nil {
			s.OnUpdate(q)
		}
	}
}

func (s *Streamer) subscribe(symbol string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(streamSubscribe{Type: "subscribe", Symbol: symbol})
}

func (s *Streamer) close() {
	s.closeOnce.Do(func() {
		s.setState(false)
		if s.conn != nil {
			s.writeMu.Lock()
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
			_ = s.conn.Close()
		}
	})
}

// setState fires OnState only on actual transitions.
func (s *Streamer) setState(connected bool) {
	if s.lastState != nil && *s.lastState == connected {
		return
	}
	s.lastState = &connected
	if s.OnState != nil {
		s.OnState(connected)
	}
}
