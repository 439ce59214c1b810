// loadgen opens many websocket connections against a farfield server and
// drives them with the client wire contract: MOVE with sequence numbers and
// predicted positions, plus occasional DIRECTION and ATTACK traffic. It
// consumes everything the server sends and prints delivery counters on exit.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"farfield/server/internal/proto"
)

type counters struct {
	connected    atomic.Int64
	dialFailures atomic.Int64
	framesSent   atomic.Int64
	framesRecv   atomic.Int64
	bytesRecv    atomic.Int64
	decodeErrors atomic.Int64
}

func main() {
	var (
		url      string
		clients  int
		moveHz   int
		duration time.Duration
	)
	flag.StringVar(&url, "url", "ws://127.0.0.1:8080/ws", "websocket endpoint")
	flag.IntVar(&clients, "clients", 50, "concurrent connections")
	flag.IntVar(&moveHz, "move-hz", 20, "movement messages per second per client")
	flag.DurationVar(&duration, "duration", 30*time.Second, "run length")
	flag.Parse()

	stats := &counters{}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			runClient(url, moveHz, rand.New(rand.NewSource(seed)), stats, stop)
		}(int64(i) + time.Now().UnixNano())
		// Stagger dials so the server's accept path is not a thundering herd.
		time.Sleep(5 * time.Millisecond)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(duration):
	case <-quit:
	}
	close(stop)
	wg.Wait()

	fmt.Printf("clients=%d dial_failures=%d frames_sent=%d frames_recv=%d bytes_recv=%d decode_errors=%d\n",
		stats.connected.Load(),
		stats.dialFailures.Load(),
		stats.framesSent.Load(),
		stats.framesRecv.Load(),
		stats.bytesRecv.Load(),
		stats.decodeErrors.Load())
}

func runClient(url string, moveHz int, rng *rand.Rand, stats *counters, stop <-chan struct{}) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		stats.dialFailures.Add(1)
		return
	}
	defer conn.Close()
	stats.connected.Add(1)

	// Drain server traffic; the generator has no interest of its own.
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			stats.framesRecv.Add(1)
			stats.bytesRecv.Add(int64(len(payload)))
			if _, err := proto.Decode(payload); err != nil {
				stats.decodeErrors.Add(1)
			}
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(moveHz))
	defer ticker.Stop()

	var seq uint32
	x, y := float32(1000), float32(1000)
	dx, dy := int8(1), int8(0)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			seq++
			if seq%64 == 0 {
				dx, dy = randomDelta(rng), randomDelta(rng)
			}
			x += float32(dx) * 4
			y += float32(dy) * 4
			send(conn, proto.Move{DX: dx, DY: dy, Seq: seq, PredictedX: x, PredictedY: y}, stats)
			if seq%128 == 0 {
				send(conn, proto.Direction{Facing: randomFacing(rng)}, stats)
			}
			if seq%256 == 0 {
				send(conn, proto.Attack{}, stats)
			} else if seq%256 == 8 {
				send(conn, proto.AttackEnd{}, stats)
			}
		}
	}
}

func send(conn *websocket.Conn, msg proto.Message, stats *counters) {
	payload, err := proto.Encode(msg)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return
	}
	stats.framesSent.Add(1)
}

func randomDelta(rng *rand.Rand) int8 {
	return int8(rng.Intn(3) - 1)
}

func randomFacing(rng *rand.Rand) int8 {
	if rng.Intn(2) == 0 {
		return -1
	}
	return 1
}
