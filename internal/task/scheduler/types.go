package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"anyarchie/internal/eventbus"
	logx "anyarchie/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// runCtx is cancelled by Stop so in-flight jobs wind down.
	runCtx    context.Context
	runCancel context.CancelFunc

	// Job error throttling: key is schedule name.
	errMu       sync.Mutex
	lastErrWarn map[string]time.Time
}

// ScheduleInfo describes one registered schedule.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

// RunEvent is published after every job run.
type RunEvent struct {
	Name string
	Took time.Duration
	Err  string
}
