// config_features.go - Batch-, Cache- und Spekulations-Limits
//
// Dieses Modul enthaelt:
// - Batch-Limits (Requests/Tokens pro Iteration, Prefill-Chunk)
// - KV-Cache Einstellungen (Sequenzlaenge, Datentyp, Hidden Size)
// - Spekulations-Budget
// - Queue-Einstellungen
// - Model-Auswahl fuer den eingebauten Evaluator
package envconfig

// =============================================================================
// Batch-Limits
// =============================================================================

var (
	// MaxRequestsPerBatch setzt die Anzahl der Batch-Slots
	// Konfigurierbar via TREESERVE_MAX_REQUESTS_PER_BATCH
	MaxRequestsPerBatch = Uint("TREESERVE_MAX_REQUESTS_PER_BATCH", 16)

	// MaxTokensPerBatch setzt das Token-Budget pro Iteration ueber alle Slots
	// Konfigurierbar via TREESERVE_MAX_TOKENS_PER_BATCH
	MaxTokensPerBatch = Uint("TREESERVE_MAX_TOKENS_PER_BATCH", 64)

	// PrefillChunk begrenzt die Prompt-Tokens pro Request und Iteration
	// 0 = nur durch MaxTokensPerBatch begrenzt
	PrefillChunk = Uint("TREESERVE_PREFILL_CHUNK", 0)
)

// =============================================================================
// KV-Cache
// =============================================================================

var (
	// MaxSequenceLength ist die Kapazitaet eines Slots im KV-Cache
	// Konfigurierbar via TREESERVE_MAX_SEQ_LENGTH
	MaxSequenceLength = Uint("TREESERVE_MAX_SEQ_LENGTH", 256)

	// KvCacheType ist der Speichertyp fuer den K/V Cache (f16 oder f32)
	KvCacheType = String("TREESERVE_KV_CACHE_TYPE")

	// HiddenSize ist die Laenge eines Key/Value-Vektors
	HiddenSize = Uint("TREESERVE_HIDDEN_SIZE", 64)
)

// =============================================================================
// Spekulation
// =============================================================================

var (
	// MaxSpecTreeTokens begrenzt die Knoten eines Spekulationsbaums (inkl. Wurzel)
	// Konfigurierbar via TREESERVE_MAX_SPEC_TREE_TOKENS
	MaxSpecTreeTokens = Uint("TREESERVE_MAX_SPEC_TREE_TOKENS", 20)

	// NoSpeculation deaktiviert Spekulation global, auch wenn Requests sie anfordern
	NoSpeculation = Bool("TREESERVE_NO_SPECULATION")
)

// =============================================================================
// Queue-Einstellungen
// =============================================================================

var (
	// MaxQueue setzt die maximale Anzahl wartender Requests
	// Konfigurierbar via TREESERVE_MAX_QUEUE
	MaxQueue = Uint("TREESERVE_MAX_QUEUE", 512)
)

// =============================================================================
// Eingebautes Model
// =============================================================================

var (
	// Model waehlt den registrierten Evaluator
	Model = String("TREESERVE_MODEL")

	// VocabSize fuer den eingebauten Evaluator
	VocabSize = Uint("TREESERVE_VOCAB_SIZE", 32000)

	// DraftAccuracy: jeder n-te Draft-Vorschlag weicht absichtlich ab (0 = nie)
	DraftAccuracy = Uint("TREESERVE_DRAFT_ACCURACY", 4)
)
