package model

import (
	"testing"
	"time"
)

func TestSetGraphPreservesNoarchArchitecture(t *testing.T) {
	b := NewBuild("demo", "git://example", "/tmp/build", false, time.Time{})
	err := b.SetGraph("rev", nil, GraphSpec{
		{Name: "compile", Job: JobSpec{
			ProductPkgs: []ArtifactDescriptor{{Name: "arch-pkg", Version: "1.0", Architecture: "x86_64"}},
		}},
		{Name: "docs", Job: JobSpec{
			ProductPkgs: []ArtifactDescriptor{{Name: "noarch-pkg", Version: "1.0", Architecture: Noarch}},
		}},
	})
	if err != nil {
		t.Fatalf("SetGraph: %v", err)
	}

	arch, ok := b.Lookup(Package, "arch-pkg")
	if !ok || arch.Architecture != "x86_64" {
		t.Fatalf("arch-pkg.Architecture = %+v, want x86_64", arch)
	}
	noarch, ok := b.Lookup(Package, "noarch-pkg")
	if !ok || noarch.Architecture != Noarch {
		t.Fatalf("noarch-pkg.Architecture = %+v, want %q (not overwritten with the build arch)", noarch, Noarch)
	}
}

func TestFailMovesRunningJobToWaitingForDone(t *testing.T) {
	b := NewBuild("demo", "git://example", "/tmp/build", false, time.Time{})
	if err := b.SetGraph("rev", nil, GraphSpec{
		{Name: "producer", Job: JobSpec{
			ProductPkgs: []ArtifactDescriptor{{Name: "shared", Version: "1.0", Architecture: "x86_64"}},
		}},
		{Name: "consumer", Job: JobSpec{
			NeededPkgs: []ArtifactDescriptor{{Name: "shared", Version: "1.0", Architecture: "x86_64"}},
		}},
	}); err != nil {
		t.Fatalf("SetGraph: %v", err)
	}

	producer := b.Jobs["producer"]
	consumer := b.Jobs["consumer"]
	consumer.Status = Running

	b.Fail(producer)

	if producer.Status != Failed {
		t.Fatalf("producer.Status = %v, want Failed", producer.Status)
	}
	if consumer.Status != WaitingForDone {
		t.Fatalf("consumer.Status = %v, want WaitingForDone (still RUNNING until its completion message arrives)", consumer.Status)
	}

	consumer.Complete(1, 0.1)
	if consumer.Status != Failed {
		t.Fatalf("consumer.Status after Complete = %v, want Failed", consumer.Status)
	}
}
