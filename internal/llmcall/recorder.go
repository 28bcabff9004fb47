package llmcall

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/jackzampolin/quire/internal/providers"
)

// Recorder appends calls to a JSON Lines file from a background writer.
// Recording is fire-and-forget: a nil Recorder or a full queue never blocks
// the pipeline.
type Recorder struct {
	logger *slog.Logger
	w      io.WriteCloser

	queue    chan *Call
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	closed  bool
	dropped int
	runID   string
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Path      string
	QueueSize int // default 256
	Logger    *slog.Logger
}

// NewRecorder opens (or creates) the log at cfg.Path for appending and
// starts the writer.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	return newRecorder(f, cfg.QueueSize, cfg.Logger), nil
}

func newRecorder(w io.WriteCloser, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		logger: logger,
		w:      w,
		queue:  make(chan *Call, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record captures a chat result.
func (r *Recorder) Record(result *providers.ChatResult, opts RecordOptions) {
	if r == nil {
		return
	}
	r.RecordCall(FromChatResult(result, opts))
}

// SetRunID stamps calls recorded from now on that carry no run ID.
func (r *Recorder) SetRunID(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.runID = id
	r.mu.Unlock()
}

// RecordCall captures an already-constructed Call.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || call == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if call.RunID == "" {
		call.RunID = r.runID
	}
	select {
	case r.queue <- call:
	default:
		r.dropped++
		r.logger.Warn("call log queue full, dropping record", "stage", call.Stage, "prompt_key", call.PromptKey)
	}
}

// Close flushes queued records and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
		err = r.w.Close()
		if r.dropped > 0 {
			r.logger.Warn("call log dropped records", "count", r.dropped)
		}
	})
	return err
}

func (r *Recorder) run() {
	defer r.wg.Done()
	bw := bufio.NewWriter(r.w)
	enc := json.NewEncoder(bw)
	for call := range r.queue {
		if err := enc.Encode(call); err != nil {
			r.logger.Warn("failed to write call record", "id", call.ID, "error", err)
			continue
		}
		// flush when idle so a crash loses at most the in-flight batch
		if len(r.queue) == 0 {
			if err := bw.Flush(); err != nil {
				r.logger.Warn("failed to flush call log", "error", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		r.logger.Warn("failed to flush call log", "error", err)
	}
}

// Totals aggregates recorded calls.
type Totals struct {
	Calls        int                `json:"calls" yaml:"calls"`
	Failed       int                `json:"failed" yaml:"failed"`
	InputTokens  int                `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int                `json:"output_tokens" yaml:"output_tokens"`
	CostUSD      float64            `json:"cost_usd" yaml:"cost_usd"`
	ByStage      map[Stage]int      `json:"by_stage" yaml:"by_stage"`
	ByModel      map[string]float64 `json:"cost_by_model,omitempty" yaml:"cost_by_model,omitempty"`
}

// Add folds one call into the totals.
func (t *Totals) Add(c *Call) {
	if t.ByStage == nil {
		t.ByStage = make(map[Stage]int)
	}
	if t.ByModel == nil {
		t.ByModel = make(map[string]float64)
	}
	t.Calls++
	if !c.Success {
		t.Failed++
	}
	t.InputTokens += c.InputTokens
	t.OutputTokens += c.OutputTokens
	t.CostUSD += c.CostUSD
	t.ByStage[c.Stage]++
	if c.Model != "" {
		t.ByModel[c.Model] += c.CostUSD
	}
}

// ReadAll reads every call in the log at path. A missing file yields no
// calls. A truncated final line, left by a crash mid-write, is skipped.
func ReadAll(path string) ([]*Call, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	defer f.Close()

	var calls []*Call
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var c Call
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		calls = append(calls, &c)
	}
	if err := sc.Err(); err != nil {
		return calls, fmt.Errorf("failed to read call log: %w", err)
	}
	return calls, nil
}

// Summarize reads the log at path and aggregates it.
func Summarize(path string) (Totals, error) {
	calls, err := ReadAll(path)
	var t Totals
	for _, c := range calls {
		t.Add(c)
	}
	return t, err
}
