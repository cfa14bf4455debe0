package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReqID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewReqID()
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestWrapPrompt(t *testing.T) {
	p := WrapPrompt("2+2?\n", "req-1")

	assert.True(t, strings.HasPrefix(p, "CCB_REQ_ID: req-1\n"))
	assert.Contains(t, p, "\n2+2?\n")
	assert.Contains(t, p, "<DONE:req-1>")
}

func TestIsDoneText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"marker last", "4\n<DONE:req-1>", true},
		{"trailing blank lines", "4\n<DONE:req-1>\n\n", true},
		{"indented marker", "4\n   <DONE:req-1>  ", true},
		{"other request", "4\n<DONE:req-2>", false},
		{"marker mid text", "<DONE:req-1>\nmore", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDoneText(tt.text, "req-1"))
		})
	}
}

func TestStripDoneText(t *testing.T) {
	assert.Equal(t, "4", StripDoneText("4\n<DONE:req-1>", "req-1"))
	assert.Equal(t, "line one\nline two", StripDoneText("line one\nline two\n\n<DONE:req-1>\n", "req-1"))
	assert.Equal(t, "partial", StripDoneText("partial\n\n", "req-1"))
	assert.Equal(t, "", StripDoneText("", "req-1"))
}
