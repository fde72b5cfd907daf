// pkg/driver/types.go
package driver

import (
	"time"

	"github.com/shopspring/decimal"

	"can-bridge-service/internal/model"
)

// Timing holds every wait the bridge protocol relies on
type Timing struct {
	ProbeTimeout time.Duration `json:"probe_timeout"`
	ProbeSettle  time.Duration `json:"probe_settle"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	PollInterval time.Duration `json:"poll_interval"`
	SectionDelay time.Duration `json:"section_delay"`
	CommandDelay time.Duration `json:"command_delay"`
	SaveDelay    time.Duration `json:"save_delay"`
	ResetDelay   time.Duration `json:"reset_delay"`

	// Mode switch strategies
	EscapeSettle time.Duration `json:"escape_settle"`
	RestartDelay time.Duration `json:"restart_delay"`
	SwitchRead   time.Duration `json:"switch_read"`
}

// DefaultTiming returns the delays the bridge firmware expects
func DefaultTiming() Timing {
	return Timing{
		ProbeTimeout: 1000 * time.Millisecond,
		ProbeSettle:  1000 * time.Millisecond,
		ReadTimeout:  2000 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		SectionDelay: 100 * time.Millisecond,
		CommandDelay: 100 * time.Millisecond,
		SaveDelay:    500 * time.Millisecond,
		ResetDelay:   2 * time.Second,
		EscapeSettle: 1 * time.Second,
		RestartDelay: 2 * time.Second,
		SwitchRead:   2 * time.Second,
	}
}

// HostDefaults are the host-side values used when the device never answers
type HostDefaults struct {
	UARTBaudRate int    `json:"uart_baud_rate"`
	CANBaudRate  int    `json:"can_baud_rate"`
	Mode         string `json:"mode"`
}

// Options configures a driver instance
type Options struct {
	SessionID           string
	Timing              Timing
	Host                HostDefaults
	RequireConfirmation bool
}

// SectionResult is the outcome of one read section
type SectionResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SyncResult is the outcome of a full read
type SyncResult struct {
	SuccessCount   int             `json:"success_count"`
	Total          int             `json:"total"`
	Degraded       bool            `json:"degraded"`
	ModeState      string          `json:"mode_state"`
	SwitchStrategy string          `json:"switch_strategy,omitempty"`
	Sections       []SectionResult `json:"sections"`
	Snapshot       *model.Snapshot `json:"snapshot"`
	Duration       time.Duration   `json:"duration"`
}

// Succeeded reports whether at least half the sections were read
func (r *SyncResult) Succeeded() bool {
	if r.Degraded || r.Total == 0 {
		return false
	}
	return r.SuccessCount*2 >= r.Total
}

// Ratio returns SuccessCount/Total rounded to four places
func (r *SyncResult) Ratio() decimal.Decimal {
	if r.Total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.SuccessCount)).
		Div(decimal.NewFromInt(int64(r.Total))).
		Round(4)
}

// Status maps the result onto an operation status
func (r *SyncResult) Status() model.OperationStatus {
	switch {
	case r.Degraded:
		return model.OperationStatusDegraded
	case r.Succeeded():
		return model.OperationStatusSuccess
	default:
		return model.OperationStatusPartial
	}
}

// ApplyResult lists the commands written during an apply
type ApplyResult struct {
	Applied   []string `json:"applied"`
	Total     int      `json:"total"`
	Confirmed bool     `json:"confirmed"`
}

// Complete reports whether every command was written
func (r *ApplyResult) Complete() bool {
	return len(r.Applied) == r.Total
}

// ProbeResult describes the detected device mode
type ProbeResult struct {
	ModeState      string `json:"mode_state"`
	Responsive     bool   `json:"responsive"`
	SwitchStrategy string `json:"switch_strategy,omitempty"`
	Response       string `json:"response,omitempty"`
}

// HealthMetrics contains session health information
type HealthMetrics struct {
	HealthScore     int           `json:"health_score"` // 0-100
	ResponseTime    time.Duration `json:"response_time"`
	SuccessRate     float64       `json:"success_rate"` // 0.0-1.0
	ErrorCount      int64         `json:"error_count"`
	TotalOperations int64         `json:"total_operations"`
	BytesWritten    int64         `json:"bytes_written"`
	BytesRead       int64         `json:"bytes_read"`
	LastErrorTime   *time.Time    `json:"last_error_time,omitempty"`
	LastSuccessTime *time.Time    `json:"last_success_time,omitempty"`
}
