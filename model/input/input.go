// Package input - Datenstrukturen an der Grenze zum Evaluator
//
// Enthaelt:
// - Token: Ein Eintrag im flachen Token-Puffer eines Batches
// - RequestInfo: Metadaten pro Request im Batch
// - BatchConfig: Der komplette Batch einer Iteration
// - Outputs: Vorhersagen und K/V-Projektionen des Evaluators
// - Frontier: Eingabe fuer das Draft-Model
// - CommittedToken: Ergebnis der Verifikation, Eingabe fuer Cache-Writes
//
// Die Felder von BatchConfig sind der Vertrag mit dem Evaluator und
// duerfen nicht umgedeutet werden.
package input

import (
	"fmt"

	"github.com/google/uuid"
)

// Token ist ein Eintrag im Token-Puffer
type Token struct {
	ID int32

	// Depth ist die absolute Position im Request
	Depth int

	// Slot ist der Batch-Slot des Requests
	Slot int

	// Speculative ist true fuer Draft-Vorschlaege
	Speculative bool

	// Bit ist die Position im Baum-Bereich der Maske (relativ zu NonTreeCacheSize)
	Bit int
}

// RequestInfo beschreibt die Tokens eines Requests im Batch
type RequestInfo struct {
	RequestID uuid.UUID
	Slot      int

	FirstTokenDepthInRequest int
	FirstTokenOffsetInBatch  int
	NumTokensInBatch         int

	// PromptPhase ist true waehrend Prompt-Tokens verarbeitet werden
	PromptPhase bool

	Mask BitMask
}

// BatchConfig ist der Batch einer Iteration. Er wird vom Scheduler geschrieben
// und danach nur noch gelesen.
type BatchConfig struct {
	ID       int
	Requests []RequestInfo
	Tokens   []Token
}

// NumTokens gibt die Anzahl der Tokens im Batch zurueck
func (b *BatchConfig) NumTokens() int {
	return len(b.Tokens)
}

// InputTokens gibt den flachen Token-Puffer zurueck
func (b *BatchConfig) InputTokens() []int32 {
	ids := make([]int32, len(b.Tokens))
	for i, t := range b.Tokens {
		ids[i] = t.ID
	}
	return ids
}

// Validate prueft die Konsistenz zwischen Requests, Tokens und Masken
func (b *BatchConfig) Validate() error {
	offset := 0
	for _, r := range b.Requests {
		if r.FirstTokenOffsetInBatch != offset {
			return fmt.Errorf("%w: request %s starts at %d, expected %d", ErrInconsistentBatch, r.RequestID, r.FirstTokenOffsetInBatch, offset)
		}
		if r.NumTokensInBatch <= 0 || offset+r.NumTokensInBatch > len(b.Tokens) {
			return fmt.Errorf("%w: request %s has %d tokens", ErrInconsistentBatch, r.RequestID, r.NumTokensInBatch)
		}
		if r.Mask.Len() != r.NumTokensInBatch {
			return fmt.Errorf("%w: request %s mask has %d rows for %d tokens", ErrInconsistentBatch, r.RequestID, r.Mask.Len(), r.NumTokensInBatch)
		}
		if err := r.Mask.Validate(); err != nil {
			return fmt.Errorf("request %s: %w", r.RequestID, err)
		}
		for _, t := range b.Tokens[offset : offset+r.NumTokensInBatch] {
			if t.Slot != r.Slot {
				return fmt.Errorf("%w: token in slot %d belongs to request in slot %d", ErrInconsistentBatch, t.Slot, r.Slot)
			}
		}
		offset += r.NumTokensInBatch
	}

	if offset != len(b.Tokens) {
		return fmt.Errorf("%w: %d tokens but requests cover %d", ErrInconsistentBatch, len(b.Tokens), offset)
	}
	return nil
}

// Outputs ist das Ergebnis eines Evaluator-Aufrufs. Predictions, Keys und
// Values haben je einen Eintrag pro Token in Submission-Reihenfolge.
type Outputs struct {
	Predictions []int32
	Keys        [][]float32
	Values      [][]float32
}

// Frontier ist ein Knoten an dem das Draft-Model Kandidaten vorschlagen soll
type Frontier struct {
	RequestID   uuid.UUID
	ParentToken int32

	// History enthaelt alle Tokens bis einschliesslich ParentToken
	History []int32
}

// CommittedToken beschreibt einen akzeptierten Token, dessen K/V-Werte
// aus dem Batch in den Cache geschrieben werden
type CommittedToken struct {
	RequestID   uuid.UUID
	Slot        int
	SourceIndex int
	Depth       int
	Token       int32
}
