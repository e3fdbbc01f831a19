// Package chaindb holds the operator-edited database of chains. The file is
// YAML on disk; the pipeline reads it as a side input and writes an updated
// copy back, preserving every hand-edited field.
package chaindb

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Status is the lifecycle state of a chain.
type Status string

const (
	// Active marks a chain with an open position.
	Active Status = "ACTIVE"
	// Closed marks a chain whose position went flat.
	Closed Status = "CLOSED"
	// Final marks a chain frozen by the operator. Its transaction set never
	// changes again.
	Final Status = "FINAL"
	// Ignore marks a chain no longer referenced by any transaction.
	Ignore Status = "IGNORE"
)

// Valid reports whether s is one of the known statuses. Empty is valid and
// means the status has not been inferred yet.
func (s Status) Valid() bool {
	switch s {
	case "", Active, Closed, Final, Ignore:
		return true
	}
	return false
}

// Chain is one chain record. Group, Strategy, Tags, Comment, Pop and Target
// are operator-owned and never overwritten once set; Strategy is back-filled
// only when empty. IDs are operator-confirmed transaction ids, AutoIDs are
// machine-assigned ones and are recomputed on every run.
type Chain struct {
	ChainID  string   `yaml:"chain_id"`
	Status   Status   `yaml:"status,omitempty"`
	Group    string   `yaml:"group,omitempty"`
	Strategy string   `yaml:"strategy,omitempty"`
	Tags     []string `yaml:"tags,omitempty,flow"`
	Comment  string   `yaml:"comment,omitempty"`
	Pop      float64  `yaml:"pop,omitempty"`
	Target   float64  `yaml:"target,omitempty"`
	IDs      []string `yaml:"ids,omitempty"`
	AutoIDs  []string `yaml:"auto_ids,omitempty"`
}

// Accept promotes a chain's machine-assigned ids to confirmed ids,
// optionally setting the status and group at the same time.
func (c *Chain) Accept(status Status, group string) {
	c.IDs = append(c.IDs, c.AutoIDs...)
	c.AutoIDs = nil
	if status != "" {
		c.Status = status
	}
	if group != "" {
		c.Group = group
	}
}

func (c *Chain) clone() *Chain {
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	out.IDs = append([]string(nil), c.IDs...)
	out.AutoIDs = append([]string(nil), c.AutoIDs...)
	return &out
}

// DB is the full chain database, in file order. Order is preserved across
// runs so the rewritten file diffs cleanly against the original.
type DB struct {
	Chains []*Chain `yaml:"chains"`
}

// Clone deep-copies the database. Passes operate on a copy so the input
// remains what the operator wrote.
func (db *DB) Clone() *DB {
	out := &DB{Chains: make([]*Chain, 0, len(db.Chains))}
	for _, c := range db.Chains {
		out.Chains = append(out.Chains, c.clone())
	}
	return out
}

// ByID builds a chain id lookup. The slice elements are shared, not copied.
func (db *DB) ByID() map[string]*Chain {
	m := make(map[string]*Chain, len(db.Chains))
	for _, c := range db.Chains {
		m[c.ChainID] = c
	}
	return m
}

// Get returns the chain with the given id, or nil.
func (db *DB) Get(chainID string) *Chain {
	for _, c := range db.Chains {
		if c.ChainID == chainID {
			return c
		}
	}
	return nil
}

// Validate checks ids and statuses. A broken database aborts the run before
// any clustering happens.
func (db *DB) Validate() error {
	seen := make(map[string]struct{}, len(db.Chains))
	for _, c := range db.Chains {
		if c.ChainID == "" {
			return fmt.Errorf("chain with empty chain_id")
		}
		if _, dup := seen[c.ChainID]; dup {
			return fmt.Errorf("duplicate chain id %q", c.ChainID)
		}
		seen[c.ChainID] = struct{}{}
		if !c.Status.Valid() {
			return fmt.Errorf("chain %s: unknown status %q", c.ChainID, c.Status)
		}
	}
	return nil
}

// Load reads a chain database from a YAML file. A missing file yields an
// empty database; a first run has no chains yet.
func Load(path string) (*DB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &DB{}, nil
		}
		return nil, fmt.Errorf("read chains db: %w", err)
	}
	var db DB
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse chains db %s: %w", path, err)
	}
	if err := db.Validate(); err != nil {
		return nil, fmt.Errorf("chains db %s: %w", path, err)
	}
	return &db, nil
}

// Save writes the database atomically, temp file then rename. A crash mid
// write never clobbers the operator's file.
func Save(path string, db *DB) error {
	data, err := yaml.Marshal(db)
	if err != nil {
		return fmt.Errorf("encode chains db: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".chains-*.yaml")
	if err != nil {
		return fmt.Errorf("write chains db: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write chains db: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write chains db: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write chains db: %w", err)
	}
	return nil
}
