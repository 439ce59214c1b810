package server

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"farfield/server/logging"
)

// captureTransport records sent payloads; flipping fail makes every send
// error so fan-out robustness can be exercised.
type captureTransport struct {
	frames [][]byte
	fail   bool
	closed bool
}

func (c *captureTransport) Send(payload []byte) error {
	if c.fail {
		return errors.New("transport failure injected")
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)
	c.frames = append(c.frames, copied)
	return nil
}

func (c *captureTransport) Close() { c.closed = true }

type fakeConns struct {
	transports map[uint32]Transport
}

func (f fakeConns) Transport(id uint32) (Transport, bool) {
	t, ok := f.transports[id]
	return t, ok
}

func testLogger() *zap.SugaredLogger {
	return logging.Nop()
}
