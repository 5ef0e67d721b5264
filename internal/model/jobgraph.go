package model

import (
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// jobNode adapts *Job to gonum's graph.Node, the way distri's batch
// scheduler wraps packages in its own node type (distr1-distri's
// internal/batch/batch.go).
type jobNode struct {
	id  int64
	job *Job
}

func (n *jobNode) ID() int64 { return n.id }

// JobGraph is a read-only gonum view of a Build's job DAG, edges running
// consumer -> producer (a job points at the jobs producing its deps), the
// same orientation distri's batch.go uses for its package graph. Cycle
// detection itself remains delegated to the external graph generator
// (spec §1 Non-goals); JobGraph exists so diagnostics and tests can use
// topological tools instead of hand-rolled traversal.
type JobGraph struct {
	g        *simple.DirectedGraph
	byJob    map[*Job]*jobNode
	byID     map[int64]*Job
}

// BuildJobGraph constructs a JobGraph from b's current Jobs/Deps. Deps on
// artifacts with no producer in this build (e.g. seeded from the rolling
// repo) simply have no corresponding edge.
func (b *Build) BuildJobGraph() *JobGraph {
	jg := &JobGraph{
		g:     simple.NewDirectedGraph(),
		byJob: make(map[*Job]*jobNode),
		byID:  make(map[int64]*Job),
	}
	var id int64
	nodeFor := func(j *Job) *jobNode {
		if n, ok := jg.byJob[j]; ok {
			return n
		}
		n := &jobNode{id: id, job: j}
		id++
		jg.byJob[j] = n
		jg.byID[n.id] = j
		jg.g.AddNode(n)
		return n
	}

	producerOf := map[*Artifact]*Job{}
	for _, j := range b.Jobs {
		for _, p := range j.Products {
			producerOf[p] = j
		}
	}

	for _, j := range b.Jobs {
		cn := nodeFor(j)
		for _, d := range j.Deps {
			producer, ok := producerOf[d]
			if !ok || producer == j {
				continue
			}
			pn := nodeFor(producer)
			if cn.ID() != pn.ID() {
				jg.g.SetEdge(jg.g.NewEdge(cn, pn))
			}
		}
	}
	return jg
}

// Acyclic reports whether the graph has no cycles, surfacing gonum's
// topo.Sort the way distri's batch.go does when it breaks bootstrap
// cycles — here used only as a diagnostic/test assertion, never to alter
// scheduling (cycle detection proper is the graph generator's job).
func (jg *JobGraph) Acyclic() (bool, error) {
	if _, err := topo.Sort(jg.g); err != nil {
		if _, ok := err.(topo.Unorderable); ok {
			return false, nil
		}
		return false, xerrors.Errorf("model: topo.Sort: %w", err)
	}
	return true, nil
}

// Consumers returns the jobs depending directly on j's products.
func (jg *JobGraph) Consumers(j *Job) []*Job {
	n, ok := jg.byJob[j]
	if !ok {
		return nil
	}
	var out []*Job
	it := jg.g.To(n.ID())
	for it.Next() {
		out = append(out, jg.byID[it.Node().ID()])
	}
	return out
}

var _ graph.Node = (*jobNode)(nil)
