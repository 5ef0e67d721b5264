package worker

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/distr1/xbbs/internal/wire"
)

func TestDetermineArchitectureSingle(t *testing.T) {
	pkgs := map[string]wire.NameVersionArch{
		"gcc":  {Version: "8.2.0", Architecture: "x86_64"},
		"libc": {Version: "2.0", Architecture: "noarch"},
	}
	arch, err := determineArchitecture(pkgs)
	if err != nil {
		t.Fatalf("determineArchitecture: %v", err)
	}
	if arch != "x86_64" {
		t.Fatalf("arch = %q, want x86_64", arch)
	}
}

func TestDetermineArchitectureMultiarchRejected(t *testing.T) {
	pkgs := map[string]wire.NameVersionArch{
		"gcc": {Version: "8.2.0", Architecture: "x86_64"},
		"arm": {Version: "1.0", Architecture: "aarch64"},
	}
	if _, err := determineArchitecture(pkgs); err == nil {
		t.Fatalf("expected multiarch rejection")
	}
}

func TestParseProgressStream(t *testing.T) {
	doc := "action: archive-tool\nsubject: gcc\nstatus: success\nartifact_files: []\n" +
		"...\n" +
		"action: pack\nsubject: libfoo\nstatus: success\nartifact_files: []\n" +
		"...\n"
	var actions []string
	err := parseProgress(strings.NewReader(doc), func(rec progressRecord) error {
		actions = append(actions, rec.Action+":"+rec.Subject)
		return nil
	})
	if err != nil {
		t.Fatalf("parseProgress: %v", err)
	}
	want := []string{"archive-tool:gcc", "pack:libfoo"}
	if len(actions) != len(want) || actions[0] != want[0] || actions[1] != want[1] {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
}

func TestPendingSetTracksAllProducts(t *testing.T) {
	msg := &wire.JobMessage{
		ProdTools: map[string]wire.NameVersionArch{"gcc": {}},
		ProdPkgs:  map[string]wire.NameVersionArch{"libfoo": {}},
		ProdFiles: []string{"readme.txt"},
	}
	p := newPendingSet(msg)
	if _, ok := p.tools.Load("gcc"); !ok {
		t.Fatalf("gcc not tracked")
	}
	if _, ok := p.pkgs.Load("libfoo"); !ok {
		t.Fatalf("libfoo not tracked")
	}
	if _, ok := p.files.Load("readme.txt"); !ok {
		t.Fatalf("readme.txt not tracked")
	}
	p.pkgs.Delete("libfoo")
	if _, ok := p.pkgs.Load("libfoo"); ok {
		t.Fatalf("libfoo still tracked after delete")
	}
}

func TestLogWriterSplitsChunksIntoLines(t *testing.T) {
	var buf bytes.Buffer
	lw := &logWriter{
		project:    "demo",
		job:        "job1",
		underlying: log.New(&buf, "", 0),
	}

	// A write chunk need not align with line boundaries (exec.Cmd's pipe
	// reads are arbitrary-sized), so feed "one\ntw" then "o\nthree" and
	// expect exactly two complete lines emitted, with "three" held back.
	if _, err := lw.Write([]byte("one\ntw")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := lw.Write([]byte("o\nthree")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := buf.String(), "one\ntwo\n"; got != want {
		t.Fatalf("logged = %q, want %q", got, want)
	}
	if string(lw.buf) != "three" {
		t.Fatalf("buffered remainder = %q, want %q", lw.buf, "three")
	}

	lw.flush()
	if got, want := buf.String(), "one\ntwo\nthree\n"; got != want {
		t.Fatalf("logged after flush = %q, want %q", got, want)
	}
}
