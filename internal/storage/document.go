package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"stake-consensus/internal/ledger"
)

// Document is the single-file ledger layout: the model map plus the
// append-only transaction history.
type Document struct {
	Models             map[string]ledger.ModelRecord `json:"models"`
	TransactionHistory []ledger.Transaction          `json:"transaction_history"`
}

// ExportDocument writes the persisted ledger as an indented JSON document.
// The file is written to a temporary name first and renamed into place.
func (s *Store) ExportDocument(path string) error {
	models, txs, err := s.Load()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	return WriteDocument(path, Document{Models: models, TransactionHistory: txs})
}

// WriteDocument writes doc to path atomically.
func WriteDocument(path string, doc Document) error {
	if doc.Models == nil {
		doc.Models = map[string]ledger.ModelRecord{}
	}
	if doc.TransactionHistory == nil {
		doc.TransactionHistory = []ledger.Transaction{}
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal ledger document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger document: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadDocument loads a ledger document written by WriteDocument.
func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read ledger document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse ledger document: %w", err)
	}
	return doc, nil
}
