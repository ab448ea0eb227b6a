package report

import (
	"sync"

	"github.com/trly/msirepo/internal/log"
	"github.com/trly/msirepo/internal/unit"
)

// StageProgress is the progress document of a stage that only tracks state.
type StageProgress struct {
	State State `json:"state" yaml:"state"`
}

// Stage tracks the state of a stage. It is safe for concurrent use.
type Stage struct {
	mu    sync.Mutex
	state State
}

// NewStage returns a stage in StateNotStarted.
func NewStage() *Stage {
	return &Stage{state: StateNotStarted}
}

// SetState transitions the stage.
func (s *Stage) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the current state.
func (s *Stage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the progress document.
func (s *Stage) Snapshot() StageProgress {
	return StageProgress{State: s.State()}
}

// ErrorDetail describes one failed unit.
type ErrorDetail struct {
	Unit  string `json:"unit" yaml:"unit"`
	Error string `json:"error" yaml:"error"`
}

// ContentProgress is the progress document of the content stage.
type ContentProgress struct {
	State        State          `json:"state" yaml:"state"`
	ItemsTotal   int            `json:"items_total" yaml:"items_total"`
	ItemsLeft    int            `json:"items_left" yaml:"items_left"`
	SizeTotal    int64          `json:"size_total" yaml:"size_total"`
	SizeLeft     int64          `json:"size_left" yaml:"size_left"`
	Details      map[string]int `json:"details" yaml:"details"`
	ErrorDetails []ErrorDetail  `json:"error_details" yaml:"error_details"`
}

// DoneKey names the per-type count of settled units, e.g. "msi_done".
func DoneKey(t unit.Type) string {
	return string(t) + "_done"
}

// TotalKey names the per-type count of planned units, e.g. "msi_total".
func TotalKey(t unit.Type) string {
	return string(t) + "_total"
}

// checkpointEvery sets how often the remaining item count is logged.
const checkpointEvery = 100

// settledKey identifies a unit across types, whose key spaces are separate.
type settledKey struct {
	typ unit.Type
	key unit.Key
}

// Content tracks download progress of the content stage. Every unit is
// counted once: a second outcome for the same unit is ignored. It is safe
// for concurrent use.
type Content struct {
	mu       sync.Mutex
	progress ContentProgress
	settled  map[settledKey]struct{}
	logger   log.Logger
}

// NewContent returns a content tracker in StateNotStarted.
func NewContent(logger log.Logger) *Content {
	c := &Content{
		progress: ContentProgress{
			State:        StateNotStarted,
			Details:      make(map[string]int),
			ErrorDetails: []ErrorDetail{},
		},
		settled: make(map[settledKey]struct{}),
		logger:  logger,
	}
	for _, t := range unit.Types() {
		c.progress.Details[DoneKey(t)] = 0
		c.progress.Details[TotalKey(t)] = 0
	}
	return c
}

// SetState transitions the stage.
func (c *Content) SetState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.State = state
}

// State returns the current state.
func (c *Content) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress.State
}

// SetInitialValues records the planned work.
func (c *Content) SetInitialValues(counts map[unit.Type]int, totalSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, t := range unit.Types() {
		c.progress.Details[TotalKey(t)] = counts[t]
		total += counts[t]
	}
	c.progress.ItemsTotal = total
	c.progress.ItemsLeft = total
	c.progress.SizeTotal = totalSize
	c.progress.SizeLeft = totalSize
}

// Success records a unit that was stored. size is the size planned for it.
func (c *Content) Success(u *unit.Unit, size int64) {
	c.settle(u, size, nil)
}

// Failure records a unit that could not be stored.
func (c *Content) Failure(u *unit.Unit, size int64, err error) {
	c.settle(u, size, err)
}

func (c *Content) settle(u *unit.Unit, size int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := settledKey{typ: u.Type, key: u.Key()}
	if _, ok := c.settled[key]; ok {
		c.logger.Warn("Unit already counted, ignoring outcome", "unit", u.String())
		return
	}
	c.settled[key] = struct{}{}

	c.progress.ItemsLeft--
	c.progress.SizeLeft -= size
	c.progress.Details[DoneKey(u.Type)]++

	if err != nil {
		c.progress.ErrorDetails = append(c.progress.ErrorDetails, ErrorDetail{
			Unit:  u.String(),
			Error: err.Error(),
		})
		return
	}

	if c.progress.ItemsLeft%checkpointEvery == 0 {
		c.logger.Debug("Items left to download", "items_left", c.progress.ItemsLeft)
	}
}

// Snapshot returns a copy of the progress document.
func (c *Content) Snapshot() ContentProgress {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.progress
	p.Details = make(map[string]int, len(c.progress.Details))
	for k, v := range c.progress.Details {
		p.Details[k] = v
	}
	p.ErrorDetails = append([]ErrorDetail{}, c.progress.ErrorDetails...)
	return p
}
