package shared

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/minio/sha256-simd"
)

// DeriveSeed derives a round seed from the process entropy and a counter
// value. The counter is never reused, so neither is the seed.
func DeriveSeed(entropy []byte, counter uint64) []byte {
	cb := make([]byte, 8)
	binary.BigEndian.PutUint64(cb, counter)
	hasher := sha256.New()
	hasher.Write(entropy)
	hasher.Write(cb)
	return hasher.Sum(nil)
}

// TaskID computes the unique identifier of a task from its seed and the
// epoch it belongs to. Any party holding both can recompute it.
func TaskID(seed []byte, epoch uint) string {
	eb := make([]byte, 8)
	binary.BigEndian.PutUint64(eb, uint64(epoch))
	hasher := sha256.New()
	hasher.Write(seed)
	hasher.Write(eb)
	return hex.EncodeToString(hasher.Sum(nil))
}

// SeedStream is a deterministic byte stream derived from a seed.
// Block i is SHA256(seed || i), so the stream is a pure function of the
// seed and can be reproduced by any party for auditing.
type SeedStream struct {
	seed    []byte
	counter uint32
	buf     []byte
}

func NewSeedStream(seed []byte) *SeedStream {
	return &SeedStream{seed: append([]byte{}, seed...)}
}

func (s *SeedStream) next() byte {
	if len(s.buf) == 0 {
		ib := make([]byte, 4)
		binary.BigEndian.PutUint32(ib, s.counter)
		s.counter++
		hasher := sha256.New()
		hasher.Write(s.seed)
		hasher.Write(ib)
		s.buf = hasher.Sum(nil)
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b
}

// Uint64 draws the next 8 bytes as a big-endian integer.
func (s *SeedStream) Uint64() uint64 {
	b := make([]byte, 8)
	for i := range b {
		b[i] = s.next()
	}
	return binary.BigEndian.Uint64(b)
}

// Intn draws a uniform-ish integer in [0, n). n must be positive.
// The modulo bias is negligible for the small ranges used here.
func (s *SeedStream) Intn(n int) int {
	return int(s.Uint64() % uint64(n))
}

// Bit draws a single binary cell value.
func (s *SeedStream) Bit() uint8 {
	return s.next() & 1
}

// Retry runs op up to retries+1 times, waiting interval between attempts.
// It stops early when the context is cancelled and reports each failed
// attempt through onFailure.
func Retry(
	ctx context.Context,
	op func() error,
	retries int,
	interval time.Duration,
	onFailure func(err error),
) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt >= retries {
			return err
		}
		onFailure(err)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
