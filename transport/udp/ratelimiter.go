// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// minRateReportPeriod bounds how often the rate limiter logs an
// observed send rate, so a fast sender doesn't flood the log.
const minRateReportPeriod = 3 * time.Second

// rateLimiter paces outgoing datagrams to a target byte rate by
// sleeping, before the next send, just long enough that the previous
// datagram's bytes would have taken that long to leave at the target
// rate. A limit of zero disables pacing entirely.
type rateLimiter struct {
	limitMBs uint32

	lastSentBytes int
	lastSentTime  time.Time

	reportSentBytes int
	reportPeriod    time.Duration
	log             *log.Entry
}

func newRateLimiter(limitMBs uint32, logger *log.Entry) *rateLimiter {
	return &rateLimiter{limitMBs: limitMBs, log: logger}
}

// wait blocks, if needed, to keep the sender below its configured byte
// rate, then records the byte count that is about to be sent so the
// next call can pace against it.
func (r *rateLimiter) wait(nextSendBytes int) {
	if r.limitMBs == 0 {
		return
	}

	if !r.lastSentTime.IsZero() {
		calculatedPeriod := time.Duration(r.lastSentBytes) * time.Second / time.Duration(r.limitMBs*1_000_000)
		elapsed := time.Since(r.lastSentTime)
		if diff := calculatedPeriod - elapsed; diff > 0 {
			time.Sleep(diff)
		}

		r.reportSentBytes += r.lastSentBytes
		r.reportPeriod += elapsed
		if r.reportPeriod >= minRateReportPeriod {
			rateMBs := float64(r.reportSentBytes) / r.reportPeriod.Seconds() / 1_000_000
			r.log.Debugf("send rate: %.3fMB/s", rateMBs)
			r.reportSentBytes = 0
			r.reportPeriod = 0
		}
	}

	r.lastSentBytes = nextSendBytes
	r.lastSentTime = time.Now()
}
