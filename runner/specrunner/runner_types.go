// runner_types.go - Typen und Strukturen fuer den Spekulations-Runner
//
// Enthaelt:
// - Status, DoneReason: Lebenszyklus eines Requests
// - SpecConfig: Spekulations-Parameter pro Request
// - SubmitParams: Parameter fuer neue Requests
// - Request: Zustand eines einzelnen Requests
// - Result, Summary: Antworten fuer Poll und Snapshot
// - Config: Limits des Servers
// - Server: Haupt-Struktur mit Slots, Queue und Cache
package specrunner

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/semaphore"

	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/model"
	"github.com/ollama/treeserve/speculate"
)

// Fehler-Definitionen
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMaxQueue         = errors.New("server busy, please try again. maximum pending requests exceeded")
	ErrNotFound         = errors.New("request not found")
	ErrEvaluatorFailure = errors.New("evaluator failure")
	ErrConsistency      = errors.New("consistency violation")
)

// Status ist der Lebenszyklus-Zustand eines Requests
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusFinished
	StatusAborted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal ist true fuer Zustaende die nicht mehr verlassen werden
func (s Status) Terminal() bool {
	return s >= StatusFinished
}

// DoneReason gibt an warum ein Request beendet wurde
type DoneReason int

const (
	DoneReasonNone DoneReason = iota
	DoneReasonLength
	DoneReasonStop
	DoneReasonAborted
	DoneReasonError
)

func (d DoneReason) String() string {
	switch d {
	case DoneReasonLength:
		return "length"
	case DoneReasonStop:
		return "stop"
	case DoneReasonAborted:
		return "abort"
	case DoneReasonError:
		return "error"
	default:
		return ""
	}
}

// SpecConfig steuert die Spekulation eines Requests
type SpecConfig struct {
	Enabled         bool
	BranchingFactor int

	// Depth ist die maximale Baumtiefe unter der Wurzel
	Depth int
}

// SubmitParams enthaelt die Parameter fuer Submit
type SubmitParams struct {
	Prompt []int32

	// MaxNewTokens hat Vorrang vor MaxLength
	MaxNewTokens int

	// MaxLength ist die Gesamtlaenge inklusive Prompt (0 = MaxSequenceLength)
	MaxLength int

	Spec SpecConfig

	// Stop beendet den Request sobald einer dieser Tokens vorhergesagt wird
	Stop []int32
}

// Request ist der Zustand eines einzelnen Requests. Felder werden nur unter
// Server.mu gelesen oder geschrieben.
type Request struct {
	ID uuid.UUID

	numPrompt int

	// tokens enthaelt Prompt und generierte Tokens. Ab Index committed
	// liegen Tokens deren K/V noch nicht im Cache steht.
	tokens []int32

	// committed ist die Tiefe bis zu der K/V im Cache steht
	committed int

	maxLength int
	spec      SpecConfig
	stop      []int32

	status     Status
	doneReason DoneReason
	err        error

	// slot ist der Batch-Slot, -1 solange keiner gebunden ist
	slot int

	// abort wird beim Leeren der Mailbox gesetzt und an der naechsten
	// Iterationsgrenze ausgewertet
	abort bool

	// polled ist die Anzahl generierter Tokens die Poll schon geliefert hat
	polled int

	// lastBatch verhindert dass ein Batch zweimal committed wird
	lastBatch int

	// Metriken
	createdAt, startedAt, finishedAt time.Time
	iterations                       int
	numProposed, numAccepted         int
}

// generated gibt die generierten Tokens zurueck
func (r *Request) generated() []int32 {
	return r.tokens[r.numPrompt:]
}

// prefilling ist true solange Prompt-Tokens ohne K/V existieren
func (r *Request) prefilling() bool {
	return r.committed < r.numPrompt
}

// Result ist die Antwort auf Poll
type Result struct {
	ID         uuid.UUID
	Status     Status
	DoneReason DoneReason
	Err        error

	// Tokens enthaelt die seit dem letzten Poll generierten Tokens
	Tokens []int32

	PromptEvalCount int
	EvalCount       int
	CommittedDepth  int
	Iterations      int
	ProposedTokens  int
	AcceptedTokens  int
	TotalDuration   time.Duration
	CreatedAt       time.Time
}

// Summary beschreibt einen Request fuer Snapshot
type Summary struct {
	ID             uuid.UUID
	Status         Status
	DoneReason     DoneReason
	Slot           int
	PromptTokens   int
	Generated      int
	CommittedDepth int
	MaxLength      int
	AcceptanceRate float64
	CreatedAt      time.Time
}

// Config enthaelt die Limits des Servers
type Config struct {
	MaxRequestsPerBatch int
	MaxTokensPerBatch   int
	MaxSequenceLength   int
	MaxSpecTreeTokens   int

	// PrefillChunk begrenzt Prompt-Tokens pro Request und Iteration (0 = Budget)
	PrefillChunk int

	MaxQueue      int
	NoSpeculation bool

	KvCacheType kvcache.DType
	HiddenSize  int

	// KeepFinished ist die Aufbewahrungszeit beendeter Requests (0 = 5 Minuten)
	KeepFinished time.Duration
}

// Server besitzt alle Scheduler-Zustaende. Die Iterationsschleife ist der
// einzige Schreiber von slots, pending und Cache; externe Aufrufer gehen
// ueber die Mailbox.
type Server struct {
	cfg     Config
	model   model.Model
	cache   *kvcache.Cache
	builder *speculate.Builder
	metrics *metrics

	// mailbox nimmt Submits und Aborts zwischen Iterationen entgegen
	mailbox *mailbox

	// queueSem begrenzt die wartenden Requests
	queueSem *semaphore.Weighted

	// Schuetzt requests und alle Request-Felder
	mu sync.Mutex

	// requests enthaelt alle bekannten Requests
	requests map[uuid.UUID]*Request

	// pending enthaelt wartende Requests in Ankunftsreihenfolge
	pending *orderedmap.OrderedMap[uuid.UUID, *Request]

	// finished enthaelt beendete Requests in Reihenfolge ihres Endes
	finished *orderedmap.OrderedMap[uuid.UUID, *Request]

	// slots haelt die laufenden Requests
	slots []*Request

	// nextSeq ist der Slot mit dem die naechste Runde beginnt (verhindert Starvation)
	nextSeq int

	// batchID zaehlt Iterationen fuer Trace-Logging
	batchID int
}
