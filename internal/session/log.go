// Package session writes the per-session append-only order/fill records
// spec §6 names (schemas given as column names), as JSON-lines. Grounded on
// the teacher's trader.go atomic-rename saveState() idiom for crash-safe
// writes, scoped down to append-only logging — this core has no full-state
// snapshot/restore requirement, spec.md names only the orders/fills output
// schemas, not a resumable-state file.
package session

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OrderRecord matches spec §6's orders schema.
type OrderRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"session_id"`
	Symbol        string    `json:"symbol"`
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id"`
	Type          string    `json:"type"`
	Side          string    `json:"side"`
	Action        string    `json:"action"` // place|cancel|fill
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	Value         float64   `json:"value"`
	Status        string    `json:"status"`
	Strategy      string    `json:"strategy"`
	Tag           string    `json:"tag"`
	Reason        string    `json:"reason,omitempty"`
	Mode          string    `json:"mode"`
}

// FillRecord matches spec §6's fills schema (orders columns plus
// fill_id, fee, fee_asset, pnl, pnl_pct).
type FillRecord struct {
	OrderRecord
	FillID   string  `json:"fill_id"`
	Fee      float64 `json:"fee"`
	FeeAsset string  `json:"fee_asset"`
	PnL      float64 `json:"pnl"`
	PnLPct   float64 `json:"pnl_pct"`
}

// Logger appends JSON-lines records to a session-scoped orders file and
// fills file.
type Logger struct {
	mu          sync.Mutex
	sessionID   string
	ordersFile  *os.File
	fillsFile   *os.File
}

// New opens (creating if needed) orders.jsonl and fills.jsonl under dir.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	of, err := os.OpenFile(dir+"/orders.jsonl", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	ff, err := os.OpenFile(dir+"/fills.jsonl", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		of.Close()
		return nil, err
	}
	return &Logger{
		sessionID:  uuid.New().String(),
		ordersFile: of,
		fillsFile:  ff,
	}, nil
}

func (l *Logger) SessionID() string { return l.sessionID }

// LogOrder appends one order record.
func (l *Logger) LogOrder(rec OrderRecord) error {
	rec.SessionID = l.sessionID
	return appendJSON(l.ordersFile, &l.mu, rec)
}

// LogFill appends one fill record.
func (l *Logger) LogFill(rec FillRecord) error {
	rec.SessionID = l.sessionID
	return appendJSON(l.fillsFile, &l.mu, rec)
}

func appendJSON(f *os.File, mu *sync.Mutex, v interface{}) error {
	mu.Lock()
	defer mu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

// Close flushes and closes both log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.ordersFile.Close()
	err2 := l.fillsFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
