// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bootstrap

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// maxBurstSize bounds the rate limiter's burst so a single large read or
// write cannot reserve an unreasonably long wait in one call.
const maxBurstSize = 256 * 1024

// RateLimitedDuplex (C2) wraps a net.Conn (or any io.ReadWriter), capping
// the combined read+write throughput at a single byte/s budget shared by
// both directions — one limiter, symmetric wrapping, mirroring the
// teacher's ThrottledWriter but applied to both sides of the duplex. The
// wrapper adds no internal buffering: the underlying byte stream is
// preserved exactly, only paced.
type RateLimitedDuplex struct {
	rw      io.ReadWriter
	limiter *rate.Limiter
	ctx     context.Context
}

// NewRateLimitedDuplex wraps rw with a shared token-bucket limiter. A
// bytesPerSec <= 0 disables limiting and returns rw unmodified.
func NewRateLimitedDuplex(ctx context.Context, rw io.ReadWriter, bytesPerSec int64) io.ReadWriter {
	if bytesPerSec <= 0 {
		return rw
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &RateLimitedDuplex{
		rw:      rw,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Read paces reads against the shared limiter.
func (d *RateLimitedDuplex) Read(p []byte) (int, error) {
	chunk := len(p)
	if chunk > d.limiter.Burst() {
		chunk = d.limiter.Burst()
	}
	if err := d.limiter.WaitN(d.ctx, chunk); err != nil {
		return 0, err
	}
	return d.rw.Read(p[:chunk])
}

// Write paces writes against the shared limiter, splitting writes larger
// than the burst size so tokens are consumed gradually rather than in one
// large reservation.
func (d *RateLimitedDuplex) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > d.limiter.Burst() {
			chunk = d.limiter.Burst()
		}
		if err := d.limiter.WaitN(d.ctx, chunk); err != nil {
			return total, err
		}
		n, err := d.rw.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}
