// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package txsched

// pad is cache line padding to prevent false sharing between hot
// counters owned by different goroutines (ingress ring head/tail,
// channel credit counters).
type pad [64]byte

// padShort is padding to fill a cache line after an 8-byte field.
type padShort [64 - 8]byte

// roundToPow2 rounds n up to the next power of 2. Used to size the
// ready-set ring (capacity must be >= 2^Q per spec) and the ingress
// rings (SCQ algorithm requires a power-of-2 capacity).
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
