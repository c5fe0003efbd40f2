package branch

import (
	"context"
	"fmt"
	"time"

	"github.com/flemzord/braid/pkg/chat"
)

// branchIndex is an adjacency view over a session's flat branch records.
// Traversal-heavy operations (lineage, thread reconstruction, cleanup)
// build it once instead of re-deriving parent/child links per step.
type branchIndex struct {
	byID     map[string]*chat.Branch
	children map[string][]string
	roots    []string
}

func buildIndex(branches []*chat.Branch) *branchIndex {
	idx := &branchIndex{
		byID:     make(map[string]*chat.Branch, len(branches)),
		children: make(map[string][]string),
	}
	for _, br := range branches {
		idx.byID[br.ID] = br
	}
	for _, br := range branches {
		if br.ParentBranchID == "" {
			idx.roots = append(idx.roots, br.ID)
			continue
		}
		idx.children[br.ParentBranchID] = append(idx.children[br.ParentBranchID], br.ID)
	}
	return idx
}

// lineage returns the chain of branches from the root fork down to
// branchID. The cycle guard covers corrupted parent pointers.
func (idx *branchIndex) lineage(branchID string) []*chat.Branch {
	var chain []*chat.Branch
	seen := make(map[string]bool)
	for id := branchID; id != "" && !seen[id]; {
		seen[id] = true
		br, ok := idx.byID[id]
		if !ok {
			break
		}
		chain = append([]*chat.Branch{br}, chain...)
		id = br.ParentBranchID
	}
	return chain
}

// Lineage returns the branch chain from the root fork down to branchID,
// including archived ancestors.
func (m *Manager) Lineage(ctx context.Context, sessionID, branchID string) ([]*chat.Branch, error) {
	branches, err := m.GetBranches(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	idx := buildIndex(branches)
	if _, ok := idx.byID[branchID]; !ok {
		return nil, fmt.Errorf("branch: branch %s: %w", branchID, ErrNotFound)
	}
	return idx.lineage(branchID), nil
}

// ThreadMessages reconstructs the full conversation line for a branch:
// main-line history up to the root fork point, each ancestor branch's
// messages up to the next fork point, then the branch's own messages, in
// chronological order. An empty branchID returns the main line only.
func (m *Manager) ThreadMessages(ctx context.Context, sessionID, branchID string) ([]*chat.Message, error) {
	if branchID == "" {
		return m.mainLineMessages(ctx, sessionID, time.Time{})
	}

	branches, err := m.GetBranches(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}
	idx := buildIndex(branches)
	leaf, ok := idx.byID[branchID]
	if !ok {
		return nil, fmt.Errorf("branch: branch %s: %w", branchID, ErrNotFound)
	}
	if leaf.SessionID != sessionID {
		return nil, fmt.Errorf("branch: branch %s belongs to session %s: %w", branchID, leaf.SessionID, ErrValidation)
	}

	chain := idx.lineage(branchID)

	// Each segment keeps messages up to the fork point of the next branch
	// in the chain; the leaf keeps everything.
	var thread []*chat.Message
	rootOrigin, err := m.GetMessage(ctx, chain[0].OriginMessageID)
	if err != nil {
		return nil, err
	}
	mainLine, err := m.mainLineMessages(ctx, sessionID, rootOrigin.Timestamp)
	if err != nil {
		return nil, err
	}
	thread = append(thread, mainLine...)

	for i, br := range chain {
		msgs, err := m.GetBranchMessages(ctx, br.ID)
		if err != nil {
			return nil, err
		}
		cutoff := time.Time{}
		if i+1 < len(chain) {
			fork, err := m.GetMessage(ctx, chain[i+1].OriginMessageID)
			if err != nil {
				return nil, err
			}
			cutoff = fork.Timestamp
		}
		for _, msg := range msgs {
			if !cutoff.IsZero() && msg.Timestamp.After(cutoff) {
				continue
			}
			thread = append(thread, msg)
		}
	}
	return thread, nil
}

// mainLineMessages returns the session's messages that carry no branch ID,
// optionally cut off at (and including) the given timestamp.
func (m *Manager) mainLineMessages(ctx context.Context, sessionID string, cutoff time.Time) ([]*chat.Message, error) {
	all, err := m.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []*chat.Message
	for _, msg := range all {
		if msg.BranchID != "" {
			continue
		}
		if !cutoff.IsZero() && msg.Timestamp.After(cutoff) {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
