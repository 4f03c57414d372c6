// Package metrics keeps the in-process counters and gauges exposed on the
// monitoring surface for the external metrics sink to scrape.
package metrics

import (
	"sync"
)

// Registry aggregates per-bank transfer counters and connection gauges.
// Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	banks map[string]*BankStats
}

// BankStats is the per-bank counter set.
type BankStats struct {
	BankCode           string `json:"bankCode"`
	ConnectionsActive  int    `json:"connectionsActive"`
	UploadsSucceeded   int64  `json:"uploadsSucceeded"`
	UploadsFailed      int64  `json:"uploadsFailed"`
	DownloadsSucceeded int64  `json:"downloadsSucceeded"`
	DownloadsFailed    int64  `json:"downloadsFailed"`
	CircuitRejections  int64  `json:"circuitRejections"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{banks: make(map[string]*BankStats)}
}

func (r *Registry) bank(code string) *BankStats {
	s, ok := r.banks[code]
	if !ok {
		s = &BankStats{BankCode: code}
		r.banks[code] = s
	}
	return s
}

// SetConnectionsActive records the current open-connection gauge for a bank.
func (r *Registry) SetConnectionsActive(bankCode string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bank(bankCode).ConnectionsActive = n
}

// RecordUpload counts one finished upload.
func (r *Registry) RecordUpload(bankCode string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.bank(bankCode)
	if ok {
		s.UploadsSucceeded++
	} else {
		s.UploadsFailed++
	}
}

// RecordDownload counts one finished download.
func (r *Registry) RecordDownload(bankCode string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.bank(bankCode)
	if ok {
		s.DownloadsSucceeded++
	} else {
		s.DownloadsFailed++
	}
}

// RecordCircuitRejection counts a call rejected by an open breaker.
func (r *Registry) RecordCircuitRejection(bankCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bank(bankCode).CircuitRejections++
}

// Snapshot returns a copy of every bank's stats.
func (r *Registry) Snapshot() []BankStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BankStats, 0, len(r.banks))
	for _, s := range r.banks {
		out = append(out, *s)
	}
	return out
}
