package optional

import (
	"encoding/json"
	"testing"
)

type patch struct {
	Title Field[string]  `json:"title"`
	Icon  Field[*string] `json:"icon"`
	Order Field[float64] `json:"sort_order"`
}

func TestFieldDistinguishesAbsentFromNull(t *testing.T) {
	var p patch
	if err := json.Unmarshal([]byte(`{"title":"Plan","icon":null}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Title.Set || p.Title.Null || p.Title.Value != "Plan" {
		t.Fatalf("title: %+v", p.Title)
	}
	if !p.Icon.Set || !p.Icon.Null {
		t.Fatalf("icon should be set to null: %+v", p.Icon)
	}
	if p.Order.Set {
		t.Fatalf("sort_order should be absent: %+v", p.Order)
	}
	if p.Icon.Ptr() != nil {
		t.Fatalf("null Ptr: want nil")
	}
	if got := p.Title.Ptr(); got == nil || *got != "Plan" {
		t.Fatalf("title Ptr: %v", got)
	}
}

func TestFieldRejectsWrongType(t *testing.T) {
	var p patch
	if err := json.Unmarshal([]byte(`{"sort_order":"high"}`), &p); err == nil {
		t.Fatalf("want error for string sort_order")
	}
}
