package model

import "testing"

func TestBuildJobGraphConsumersFollowProducerEdges(t *testing.T) {
	libArtifact := &Artifact{Kind: Package, Name: "lib", Architecture: "x86_64"}
	appArtifact := &Artifact{Kind: Package, Name: "app", Architecture: "x86_64"}

	libJob := NewJob("lib", false, nil)
	libJob.Products = []*Artifact{libArtifact}

	appJob := NewJob("app", false, nil)
	appJob.Deps = []*Artifact{libArtifact}
	appJob.Products = []*Artifact{appArtifact}

	toolJob := NewJob("tool", false, nil)
	toolJob.Deps = []*Artifact{appArtifact}

	b := &Build{
		Jobs: map[string]*Job{
			"lib":  libJob,
			"app":  appJob,
			"tool": toolJob,
		},
	}

	jg := b.BuildJobGraph()

	acyclic, err := jg.Acyclic()
	if err != nil {
		t.Fatalf("Acyclic: %v", err)
	}
	if !acyclic {
		t.Fatalf("expected acyclic graph")
	}

	consumers := jg.Consumers(libJob)
	if len(consumers) != 1 || consumers[0] != appJob {
		t.Fatalf("Consumers(lib) = %v, want [app]", consumers)
	}

	consumers = jg.Consumers(appJob)
	if len(consumers) != 1 || consumers[0] != toolJob {
		t.Fatalf("Consumers(app) = %v, want [tool]", consumers)
	}

	if c := jg.Consumers(toolJob); len(c) != 0 {
		t.Fatalf("Consumers(tool) = %v, want none", c)
	}
}

func TestBuildJobGraphDetectsCycle(t *testing.T) {
	aArtifact := &Artifact{Kind: Package, Name: "a"}
	bArtifact := &Artifact{Kind: Package, Name: "b"}

	aJob := NewJob("a", false, nil)
	aJob.Deps = []*Artifact{bArtifact}
	aJob.Products = []*Artifact{aArtifact}

	bJob := NewJob("b", false, nil)
	bJob.Deps = []*Artifact{aArtifact}
	bJob.Products = []*Artifact{bArtifact}

	build := &Build{
		Jobs: map[string]*Job{"a": aJob, "b": bJob},
	}

	jg := build.BuildJobGraph()
	acyclic, err := jg.Acyclic()
	if err != nil {
		t.Fatalf("Acyclic: %v", err)
	}
	if acyclic {
		t.Fatalf("expected cycle to be detected")
	}
}

func TestBuildJobGraphSkipsUnproducedDeps(t *testing.T) {
	seeded := &Artifact{Kind: Tool, Name: "seeded-tool", Received: true}

	job := NewJob("consumer", false, nil)
	job.Deps = []*Artifact{seeded}

	build := &Build{Jobs: map[string]*Job{"consumer": job}}
	jg := build.BuildJobGraph()

	if c := jg.Consumers(job); len(c) != 0 {
		t.Fatalf("Consumers = %v, want none (dep has no producer in this build)", c)
	}
	acyclic, err := jg.Acyclic()
	if err != nil || !acyclic {
		t.Fatalf("Acyclic = %v, %v", acyclic, err)
	}
}
