package anthropic_test

import (
	"testing"

	"github.com/flowgraph/flowgraph/flow/agent/anthropic"
)

func TestNewValidation(t *testing.T) {
	if _, err := anthropic.New("", "claude-sonnet-4-20250514"); err == nil {
		t.Error("New with empty api key: want error")
	}
	if _, err := anthropic.New("sk-ant-test", ""); err == nil {
		t.Error("New with empty model: want error")
	}
	a, err := anthropic.New("sk-ant-test", "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Name() != "anthropic" {
		t.Errorf("Name = %q, want anthropic", a.Name())
	}
}
