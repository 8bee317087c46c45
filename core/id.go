package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// NewTaskID derives the public analysis task identifier from the stock code
// and submission time, e.g. "HK00700_20260901_153000".
func NewTaskID(stockCode string, at time.Time) string {
	return fmt.Sprintf("%s_%s", stockCode, at.Format("20060102_150405"))
}

// NewWorkerID builds a unique identifier based on hostname, pid, and random suffix.
func NewWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	pid := os.Getpid()
	return fmt.Sprintf("%s:%d:%s", hostname, pid, randomHex(6))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = byte(i + 1)
		}
	}
	return hex.EncodeToString(b)
}
