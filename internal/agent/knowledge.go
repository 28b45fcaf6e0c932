// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package agent

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

// DefaultTopK is the number of documents retrieved per question.
const DefaultTopK = 5

// Document is one knowledge entry, such as a policy paragraph or a program rule.
type Document struct {
	ID      string   `yaml:"id" json:"id"`
	Title   string   `yaml:"title" json:"title"`
	Content string   `yaml:"content" json:"content"`
	Tags    []string `yaml:"tags" json:"tags"`
}

// KnowledgeFile is the structure of a knowledge YAML file.
type KnowledgeFile struct {
	Documents []Document `yaml:"documents"`
}

// KnowledgeBase is an in-memory full-text index of documents.
type KnowledgeBase struct {
	mu    sync.RWMutex
	index bleve.Index
	docs  map[string]Document
}

// NewKnowledgeBase indexes docs in memory.
func NewKnowledgeBase(docs []Document) (*KnowledgeBase, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create knowledge index: %w", err)
	}
	kb := &KnowledgeBase{index: index, docs: make(map[string]Document, len(docs))}
	for i, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", i+1)
		}
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		if err := index.Index(d.ID, d); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("index document %s: %w", d.ID, err)
		}
		kb.docs[d.ID] = d
	}
	return kb, nil
}

// LoadKnowledgeBase reads documents from a YAML file.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}
	var file KnowledgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file: %w", err)
	}
	kb, err := NewKnowledgeBase(file.Documents)
	if err != nil {
		return nil, err
	}
	log.Infof("Indexed %d knowledge documents from %s", kb.Len(), path)
	return kb, nil
}

// Len returns the number of indexed documents.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.docs)
}

// Search returns up to k documents matching question, best first.
func (kb *KnowledgeBase) Search(question string, k int) ([]Document, error) {
	if strings.TrimSpace(question) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(question))
	req.Size = k

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	result, err := kb.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	out := make([]Document, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if d, ok := kb.docs[hit.ID]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Close releases the index.
func (kb *KnowledgeBase) Close() error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.index.Close()
}
