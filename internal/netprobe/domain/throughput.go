package domain

import "time"

// ThroughputSample is one chunk measurement sent back to a duplex peer.
type ThroughputSample struct {
	Bytes          int64   `json:"bytes"`
	ElapsedSeconds float64 `json:"dt"`
}

// NewThroughputSample builds a sample from a byte count and elapsed wall time
func NewThroughputSample(bytes int64, elapsed time.Duration) ThroughputSample {
	if elapsed < 0 {
		elapsed = 0
	}
	return ThroughputSample{Bytes: bytes, ElapsedSeconds: elapsed.Seconds()}
}

// MegabitsPerSecond returns the instantaneous bit-rate, 0 when no time elapsed.
func (s ThroughputSample) MegabitsPerSecond() float64 {
	if s.ElapsedSeconds <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / s.ElapsedSeconds / 1e6
}

// UploadSession tracks one HTTP upload or one duplex connection.
type UploadSession struct {
	ID                 string
	BytesReceived      int64
	Chunks             int64
	OpenedAt           time.Time
	LastChunkTimestamp time.Time
}

// NewUploadSession starts a session whose first chunk is measured from openedAt
func NewUploadSession(id string, openedAt time.Time) *UploadSession {
	return &UploadSession{ID: id, OpenedAt: openedAt, LastChunkTimestamp: openedAt}
}

// Record accounts for one chunk received at now and returns its sample
func (s *UploadSession) Record(n int, now time.Time) ThroughputSample {
	sample := NewThroughputSample(int64(n), now.Sub(s.LastChunkTimestamp))
	s.LastChunkTimestamp = now
	s.BytesReceived += int64(n)
	s.Chunks++
	return sample
}
