package storage

import (
	"reflect"
	"testing"
	"time"
)

func TestIncrementBelowArgs(t *testing.T) {
	got := IncrementBelowArgs("reports", 25, 45*24*time.Hour, map[string]string{
		"plan":   "free",
		"period": "2025-03",
	})
	want := []string{"reports", "25", "3888000", "period", "2025-03", "plan", "free"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IncrementBelowArgs() = %v, want %v", got, want)
	}

	if got := IncrementBelowArgs("f", 1, 0, nil); !reflect.DeepEqual(got, []string{"f", "1", "0"}) {
		t.Errorf("IncrementBelowArgs() without meta = %v", got)
	}
}

func TestParseIncrementResult(t *testing.T) {
	tests := []struct {
		name    string
		reply   []int64
		value   int64
		ok      bool
		wantErr bool
	}{
		{name: "incremented", reply: []int64{4, 1}, value: 4, ok: true},
		{name: "at ceiling", reply: []int64{25, 0}, value: 25, ok: false},
		{name: "malformed", reply: []int64{1}, wantErr: true},
		{name: "empty", reply: nil, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok, err := ParseIncrementResult(tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIncrementResult() error = %v, wantErr %v", err, tt.wantErr)
			}
			if v != tt.value || ok != tt.ok {
				t.Errorf("ParseIncrementResult() = %d, %v; want %d, %v", v, ok, tt.value, tt.ok)
			}
		})
	}
}
