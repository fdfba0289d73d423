// Package fanin bounds the number of direct parents a downstream job declares.
//
// AWS Batch rejects jobs with more than 20 entries in dependsOn. When many
// independent jobs must all finish before one downstream job starts, they are
// spread over a fixed number of serial chains and the downstream job depends
// on the last job of every chain instead.
package fanin

import (
	"asset-pipeline/core/models"
)

const (
	// DefaultMaxParents is the number of chains used for a fan-in
	DefaultMaxParents = 16
	// MaxRemoteParents is the most dependsOn entries AWS Batch accepts
	MaxRemoteParents = 20
)

// Constructor builds a predecessor job given its parent names
type Constructor func(parents []string) models.Job

// Chain is a strictly serial sequence of jobs
type Chain struct {
	jobs []models.Job
}

// Len returns the number of jobs in the chain
func (c *Chain) Len() int {
	return len(c.jobs)
}

// Last returns the most recently appended job
func (c *Chain) Last() (models.Job, bool) {
	if len(c.jobs) == 0 {
		return models.Job{}, false
	}
	return c.jobs[len(c.jobs)-1], true
}

// Append adds a job to the end of the chain
func (c *Chain) Append(job models.Job) {
	c.jobs = append(c.jobs, job)
}

// Jobs returns the chain members in order
func (c *Chain) Jobs() []models.Job {
	return append([]models.Job(nil), c.jobs...)
}

// Ring is a fixed-size ring of chains. The cursor starts before the first
// chain, so the first call to Next returns chain 0.
type Ring struct {
	chains []*Chain
	idx    int
}

// NewRing creates a ring of size empty chains
func NewRing(size int) *Ring {
	chains := make([]*Chain, size)
	for i := range chains {
		chains[i] = &Chain{}
	}
	return &Ring{chains: chains, idx: -1}
}

// Next advances the cursor, wrapping around, and returns the chain under it
func (r *Ring) Next() *Chain {
	r.idx++
	if r.idx >= len(r.chains) {
		r.idx = 0
	}
	return r.chains[r.idx]
}

// All returns every chain in ring order
func (r *Ring) All() []*Chain {
	return r.chains
}

// Tails returns the name of the last job of every non-empty chain
func (r *Ring) Tails() []string {
	tails := make([]string, 0, len(r.chains))
	for _, c := range r.chains {
		if last, ok := c.Last(); ok {
			tails = append(tails, last.Name)
		}
	}
	return tails
}

// Partition places the predecessors on min(limit, len(preds)) chains. It
// returns the constructed jobs in input order and the names the downstream
// job must declare as parents.
func Partition(preds []Constructor, limit int) ([]models.Job, []string) {
	return PartitionAfter(nil, preds, limit)
}

// PartitionAfter is Partition where the head of every chain depends on head
// instead of nothing.
func PartitionAfter(head []string, preds []Constructor, limit int) ([]models.Job, []string) {
	if limit < 1 {
		panic("fanin: limit must be at least 1")
	}
	if len(preds) == 0 {
		return nil, nil
	}

	size := limit
	if len(preds) < size {
		size = len(preds)
	}

	ring := NewRing(size)
	members := make([]models.Job, 0, len(preds))
	for _, build := range preds {
		chain := ring.Next()

		var parents []string
		if last, ok := chain.Last(); ok {
			parents = []string{last.Name}
		} else if len(head) > 0 {
			parents = append([]string(nil), head...)
		}

		job := build(parents)
		chain.Append(job)
		members = append(members, job)
	}

	return members, ring.Tails()
}
