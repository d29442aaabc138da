package msstats

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTransformRow(t *testing.T) {
	tests := []struct {
		name string
		got  Row
		want Row
	}{
		{
			name: "flanking dots trimmed and extension stripped",
			got:  TransformRow("P12345", ".PEPTIDEK.", "2", "L", "12345.6", "run_A.mzML", "1"),
			want: Row{
				ProteinName:       "P12345",
				Peptidoform:       "PEPTIDEK",
				Charge:            "2",
				Channel:           "L",
				Intensity:         "12345.6",
				ReferenceFileName: "run_A",
				Run:               "1",
			},
		},
		{
			name: "already clean row unchanged",
			got:  TransformRow("Q67890", "PEPT(Oxidation)IDEK", "3", "TMT126", "", "mix.raw", "2"),
			want: Row{
				ProteinName:       "Q67890",
				Peptidoform:       "PEPT(Oxidation)IDEK",
				Charge:            "3",
				Channel:           "TMT126",
				Intensity:         "",
				ReferenceFileName: "mix",
				Run:               "2",
			},
		},
		{
			name: "gzipped reference",
			got:  TransformRow("P1", "AAK", "2", "L", "1", "/data/run_B.mzML.gz", "1"),
			want: Row{
				ProteinName:       "P1",
				Peptidoform:       "AAK",
				Charge:            "2",
				Channel:           "L",
				Intensity:         "1",
				ReferenceFileName: "run_B",
				Run:               "1",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got); diff != "" {
				t.Errorf("TransformRow mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
