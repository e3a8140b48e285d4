// Package model - Evaluator- und Draft-Interfaces und Registrierung
//
// Dieses Paket definiert die externen Kollaborateure des Schedulers und
// stellt Funktionen zur Registrierung und Erstellung bereit.
//
// Hauptkomponenten:
// - Evaluator: Ziel-Model, bewertet einen kompletten Batch
// - Draft: Kleines Model, schlaegt Kandidaten fuer den Spekulationsbaum vor
// - Config: Parameter fuer Konstruktoren
// - Register/New: Registriert und erstellt Model-Instanzen
// - Forward: Ruft den Evaluator auf und prueft den Ausgabe-Vertrag

package model

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ollama/treeserve/kvcache"
	"github.com/ollama/treeserve/model/input"
)

// Fehler-Definitionen
var (
	ErrUnsupportedModel = errors.New("model not supported")
	ErrOutputMismatch   = errors.New("evaluator output does not match batch")
)

// Evaluator ist das Ziel-Model. Forward liefert genau eine Vorhersage pro
// uebergebenem Token, in Submission-Reihenfolge, sowie die K/V-Projektion
// jedes Tokens. history erlaubt nur Lesen bis zur committeten Tiefe.
type Evaluator interface {
	Forward(ctx context.Context, batch *input.BatchConfig, history kvcache.Reader) (*input.Outputs, error)
}

// Draft schlaegt fuer jeden Frontier-Eintrag bis zu branching Kandidaten vor.
// Das Ergebnis hat einen Eintrag pro Frontier-Eintrag.
type Draft interface {
	Propose(ctx context.Context, frontier []input.Frontier, branching int) ([][]int32, error)
}

// Config enthaelt Parameter fuer Model-Konstruktoren
type Config struct {
	VocabSize  int
	HiddenSize int

	// DraftAccuracy: jeder n-te Draft-Vorschlag ist absichtlich falsch (0 = nie)
	DraftAccuracy int
}

// Model buendelt Evaluator und optionales Draft-Model
type Model struct {
	Evaluator Evaluator
	Draft     Draft
}

var models = make(map[string]func(Config) (Model, error))

// Register registriert einen Konstruktor unter name
func Register(name string, f func(Config) (Model, error)) {
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// Names gibt alle registrierten Namen sortiert zurueck
func Names() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New erstellt die unter name registrierte Model-Instanz
func New(name string, c Config) (Model, error) {
	f, ok := models[name]
	if !ok {
		return Model{}, fmt.Errorf("%w: '%s'", ErrUnsupportedModel, name)
	}

	m, err := f(c)
	if err != nil {
		return Model{}, err
	}
	if m.Evaluator == nil {
		return Model{}, fmt.Errorf("model %s has no evaluator", name)
	}
	return m, nil
}

// Forward ruft den Evaluator auf und prueft dass genau eine Vorhersage
// (und ein K/V-Paar) pro Token zurueckkommt
func Forward(ctx context.Context, e Evaluator, batch *input.BatchConfig, history kvcache.Reader) (*input.Outputs, error) {
	out, err := e.Forward(ctx, batch, history)
	if err != nil {
		return nil, err
	}

	n := batch.NumTokens()
	if out == nil || len(out.Predictions) != n || len(out.Keys) != n || len(out.Values) != n {
		got := 0
		if out != nil {
			got = len(out.Predictions)
		}
		return nil, fmt.Errorf("%w: %d tokens submitted, %d predictions returned", ErrOutputMismatch, n, got)
	}

	return out, nil
}
