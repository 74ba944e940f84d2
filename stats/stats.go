package stats

import (
	"github.com/ethereum/go-ethereum/metrics"
)

func init() {
	// Counters are load-bearing here (tests and throttles read them back),
	// not optional instrumentation.
	metrics.Enabled = true
}

// Type names the subsystem a counter belongs to.
type Type string

const (
	TypeMessage         Type = "message"
	TypeDrop            Type = "drop"
	TypeChannel         Type = "channel"
	TypeLedger          Type = "ledger"
	TypeBlockProcessor  Type = "blockprocessor"
	TypeBootstrapServer Type = "bootstrap_server"
	TypeAscendBoot      Type = "ascendboot"
	TypePriorityBoot    Type = "ascendboot_priority"
	TypeLedgerScan      Type = "ascendboot_ledger_scan"
	TypeScheduler       Type = "election_scheduler"
	TypeHinting         Type = "hinting"
	TypeBroadcaster     Type = "block_broadcaster"
	TypeVoteCache       Type = "vote_cache"
)

// Detail refines a counter within its type; message counters use the message
// type name as the detail.
type Detail string

const (
	DetailLoop             Detail = "loop"
	DetailOverfill         Detail = "overfill"
	DetailInsufficientWork Detail = "insufficient_work"
	DetailRollbackFailed   Detail = "rollback_failed"
	DetailRequest          Detail = "request"
	DetailReply            Detail = "reply"
	DetailMissingTag       Detail = "missing_tag"
	DetailTimeout          Detail = "timeout"
	DetailInvalid          Detail = "invalid"
	DetailNothingNew       Detail = "nothing_new"
	DetailBlocks           Detail = "blocks"
	DetailResponse         Detail = "response"
	DetailResponseBlocks   Detail = "response_blocks"
	DetailResponseAccount  Detail = "response_account_info"
	DetailResponseFrontiers Detail = "response_frontiers"
	DetailChannelFull      Detail = "channel_full"
	DetailWriteError       Detail = "write_error"
	DetailNextPriority     Detail = "next_priority"
	DetailNextDatabase     Detail = "next_database"
	DetailNextNone         Detail = "next_none"
	DetailThrottled        Detail = "throttled"
	DetailActivated        Detail = "activated"
	DetailInsertManual     Detail = "insert_manual"
	DetailInsertPriority   Detail = "insert_priority"
	DetailInsert           Detail = "insert"
	DetailInsertFailed     Detail = "insert_failed"
	DetailMissingBlock     Detail = "missing_block"
	DetailAlreadyConfirmed Detail = "already_confirmed"
	DetailDependentUnconfirmed Detail = "dependent_unconfirmed"
	DetailDependentActivated   Detail = "dependent_activated"
	DetailActivateFinal    Detail = "activate_final"
	DetailActivateNormal   Detail = "activate_normal"
	DetailBroadcast        Detail = "broadcast"
	DetailRollback         Detail = "rollback"
	DetailEraseOld         Detail = "erase_old"
	DetailEraseConfirmed   Detail = "erase_confirmed"
	DetailVote             Detail = "vote"
	DetailVoteProcessed    Detail = "vote_processed"
)

type Dir string

const (
	DirIn  Dir = "in"
	DirOut Dir = "out"
)

// Stats is a process-local counter registry keyed (type, detail, dir),
// backed by go-ethereum metrics counters.
type Stats struct {
	registry metrics.Registry
}

func New() *Stats {
	return &Stats{registry: metrics.NewRegistry()}
}

func (s *Stats) counter(t Type, d Detail, dir Dir) metrics.Counter {
	name := string(t) + "." + string(d)
	if dir != "" {
		name += "." + string(dir)
	}
	return metrics.GetOrRegisterCounter(name, s.registry)
}

func (s *Stats) Inc(t Type, d Detail) {
	s.counter(t, d, "").Inc(1)
}

func (s *Stats) IncDir(t Type, d Detail, dir Dir) {
	s.counter(t, d, dir).Inc(1)
}

func (s *Stats) Add(t Type, d Detail, dir Dir, n int64) {
	s.counter(t, d, dir).Inc(n)
}

// Count reads a counter back; used by tests and diagnostics.
func (s *Stats) Count(t Type, d Detail, dir Dir) int64 {
	return s.counter(t, d, dir).Count()
}
