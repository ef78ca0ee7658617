package cellfile

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/morph/morphtest"
)

func neuronDoc(t *testing.T) (*Document, morphtest.Neuron) {
	t.Helper()
	n := morphtest.NewNeuron(t)
	a := morphtest.MustSynapse(t, n.Cell, n.Apic, 0.3, 0, 0.5, 2)
	b := morphtest.MustSynapse(t, n.Cell, n.Soma, 0.5, -80, 1, 10)
	if _, err := n.Cell.AddPointProcess("IClamp", n.Soma, 0.5, map[string]float64{"amp": 0.1}); err != nil {
		t.Fatalf("AddPointProcess: %v", err)
	}
	conns := []morph.Connection{
		{Source: "pre0", Target: a, Weight: 0.002, Delay: 1.5},
		{Source: "pre1", Target: b, Weight: 0.001, Delay: 1},
	}
	return FromCell(n.Cell, []morph.PPID{a, b}, conns), n
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		doc, n := neuronDoc(t)
		path := filepath.Join(t.TempDir(), "cell.json")
		if err := Write(path, doc, compress); err != nil {
			t.Fatalf("Write(compress=%v): %v", compress, err)
		}

		version, err := DetectFormat(path)
		if err != nil {
			t.Fatalf("DetectFormat: %v", err)
		}
		want := FormatV1
		if compress {
			want = FormatV2
		}
		if version != want {
			t.Errorf("expected format %d, got %d", want, version)
		}

		got, err := Read(path)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		c, syns, conns, err := got.Cell()
		if err != nil {
			t.Fatalf("Cell: %v", err)
		}

		if len(c.Sections()) != len(n.Cell.Sections()) {
			t.Errorf("expected %d sections, got %d", len(n.Cell.Sections()), len(c.Sections()))
		}
		apic, err := c.Lookup("apic[1]")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		parent, x, _ := c.Parent(apic)
		if c.Name(parent) != "apic[0]" || x != 1 {
			t.Errorf("expected apic[1] at apic[0](1), got %s(%g)", c.Name(parent), x)
		}
		soma := c.Soma()
		if p, x, ok := c.Parent(soma); !ok || c.Name(p) != "axon[0]" || x != 1 {
			t.Errorf("expected soma on axon[0](1), got %s(%g)", c.Name(p), x)
		}

		dend, _ := c.Lookup("dend[0]")
		if v, ok := c.Param(morph.SegmentRef{Section: dend, Index: 2}, "na", "gbar"); !ok || math.Abs(v-0.03) > 1e-12 {
			t.Errorf("expected na gbar 0.03 on dend[0] segment 2, got %g (%v)", v, ok)
		}

		if len(syns) != 2 || len(c.PointProcesses()) != 3 {
			t.Fatalf("expected 2 synapses of 3 point processes, got %v of %v", syns, c.PointProcesses())
		}
		pp, _ := c.PointProcess(syns[0])
		if c.Name(pp.Section) != "apic[0]" || pp.Params["tau2"] != 2 {
			t.Errorf("unexpected first synapse %+v", pp)
		}
		if len(conns) != 2 || conns[0].Target != syns[0] || conns[0].Weight != 0.002 {
			t.Errorf("unexpected connections %+v", conns)
		}
	}
}

func TestVerifyChecksum(t *testing.T) {
	doc, _ := neuronDoc(t)
	path := filepath.Join(t.TempDir(), "cell.json.gz")
	if err := WriteV2(path, doc); err != nil {
		t.Fatalf("WriteV2: %v", err)
	}
	if err := VerifyChecksum(path); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}

	header, err := ReadV2Header(path)
	if err != nil {
		t.Fatalf("ReadV2Header: %v", err)
	}
	if header.SectionCount != 6 || header.SynapseCount != 2 || !header.Compressed {
		t.Errorf("unexpected header %+v", header)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	if err := VerifyChecksum(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
	if _, err := ReadV2(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ReadV2 to fail on corruption, got %v", err)
	}
}

func TestDetectFormat_Unrecognized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cell.txt")
	if err := os.WriteFile(path, []byte("not a cell\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := DetectFormat(path); err == nil {
		t.Error("expected error for unrecognized format")
	}
	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := DetectFormat(empty); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestCell_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want error
	}{
		{
			name: "unknown parent",
			doc: Document{Sections: []SectionDoc{
				{Name: "soma", Type: morph.Soma, Properties: morphtest.Passive(10, 10, 1)},
				{Name: "dend[0]", Type: morph.Basal, Parent: "soma[3]", Properties: morphtest.Passive(10, 1, 1)},
			}},
			want: morph.ErrSectionNotFound,
		},
		{
			name: "unknown synapse",
			doc: Document{
				Sections: []SectionDoc{{Name: "soma", Type: morph.Soma, Properties: morphtest.Passive(10, 10, 1)}},
				Synapses: []morph.PPID{4},
			},
			want: morph.ErrPointProcessNotFound,
		},
		{
			name: "segment count mismatch",
			doc: Document{Sections: []SectionDoc{{
				Name: "soma", Type: morph.Soma, Properties: morphtest.Passive(10, 10, 2),
				Mechanisms: []string{"hh"}, Segments: []morph.MechValues{{"hh": {"gnabar": 0.12}}},
			}}},
			want: morph.ErrInvalidGeometry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := tt.doc.Cell(); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
