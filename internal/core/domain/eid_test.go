package domain

import (
	"encoding/json"
	"testing"
)

func TestParseEID(t *testing.T) {
	tests := []struct {
		in      string
		want    EID
		wantErr bool
	}{
		{in: "ipn:5.1", want: IPN(5, 1)},
		{in: "ipn:5.0", want: AdminEID(5)},
		{in: "imc:0.0", want: IMC(RegionalGroup, 0)},
		{in: "imc:17.3", want: IMC(17, 3)},
		{in: "dtn:none", want: NoneEID},
		{in: "dtn:foo", wantErr: true},
		{in: "ipn:0.1", wantErr: true},
		{in: "ipn:5", wantErr: true},
		{in: "ipn:x.1", wantErr: true},
		{in: "ipn5.1", wantErr: true},
		{in: "tcp:1.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEID(tt.in)
			if tt.wantErr {
				if !IsDomainError(err, ErrMalformedEID.Code) {
					t.Fatalf("ParseEID(%q) error = %v, want malformed eid", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEID(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseEID(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestEID_JSON(t *testing.T) {
	type wrapper struct {
		Dest EID `json:"dest"`
	}
	b, err := json.Marshal(wrapper{Dest: IPN(9, 2)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"dest":"ipn:9.2"}` {
		t.Errorf("marshal = %s", b)
	}
	var w wrapper
	if err := json.Unmarshal([]byte(`{"dest":"imc:4.1"}`), &w); err != nil {
		t.Fatal(err)
	}
	if w.Dest != IMC(4, 1) {
		t.Errorf("unmarshal = %v", w.Dest)
	}
}

func TestEID_IsNone(t *testing.T) {
	if !NoneEID.IsNone() {
		t.Error("dtn:none should be none")
	}
	if !(EID{}).IsNone() {
		t.Error("zero EID should be none")
	}
	if IPN(1, 1).IsNone() {
		t.Error("ipn endpoint should not be none")
	}
}
