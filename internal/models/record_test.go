package models

import (
	"errors"
	"math"
	"testing"
)

func TestRecordInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		in      RecordInput
		wantErr bool
	}{
		{"empty", RecordInput{}, true},
		{"vector without hash", RecordInput{Vector: []float32{1}}, true},
		{"vector with hash", RecordInput{Vector: []float32{1}, ContentHash: "h"}, false},
		{"content only", RecordInput{Content: "text"}, false},
		{"hash only", RecordInput{ContentHash: "h"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecordInput_StringMetadata(t *testing.T) {
	in := RecordInput{Metadata: map[string]interface{}{"n": float64(3), "ok": true, "s": "x"}}
	got := in.StringMetadata()
	if got["n"] != "3" || got["ok"] != "true" || got["s"] != "x" {
		t.Errorf("StringMetadata() = %v", got)
	}
	if (&RecordInput{}).StringMetadata() != nil {
		t.Error("empty metadata should stay nil")
	}
}

func TestPutRequest_Validate(t *testing.T) {
	if err := (&PutRequest{Vector: []float32{1}}).Validate(); err == nil {
		t.Error("missing content hash should fail")
	}
	if err := (&PutRequest{ContentHash: "h"}).Validate(); err == nil {
		t.Error("missing vector should fail")
	}
	if err := (&PutRequest{ContentHash: "h", Vector: []float32{1}}).Validate(); err != nil {
		t.Errorf("valid request: %v", err)
	}
	nan := float32(math.NaN())
	if err := (&PutRequest{ContentHash: "h", Vector: []float32{nan, 0}}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NaN vector: err = %v, want ErrInvalidInput", err)
	}
	if err := (&RecordInput{ContentHash: "h", Vector: []float32{float32(math.Inf(1))}}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("infinite vector: err = %v, want ErrInvalidInput", err)
	}
}
