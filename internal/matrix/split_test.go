package matrix

import (
	"strings"
	"testing"
)

func TestSplitMessageShort(t *testing.T) {
	chunks := SplitMessage("hello", 4000)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	msg := "first line\nsecond line\nthird line"
	chunks := SplitMessage(msg, 15)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks: %v", len(chunks), chunks)
	}
	if chunks[0] != "first line\n" {
		t.Errorf("chunk 0 = %q", chunks[0])
	}
	if strings.Join(chunks, "") != msg {
		t.Errorf("chunks do not reassemble the message: %v", chunks)
	}
}

func TestSplitMessageHardCutsLongLine(t *testing.T) {
	msg := strings.Repeat("a", 9001)
	chunks := SplitMessage(msg, 4000)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, c := range chunks[:2] {
		if len(c) != 4000 {
			t.Errorf("chunk %d length = %d", i, len(c))
		}
	}
	if len(chunks[2]) != 1001 {
		t.Errorf("last chunk length = %d", len(chunks[2]))
	}
	if strings.Join(chunks, "") != msg {
		t.Error("chunks do not reassemble the message")
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	chunks := SplitMessage("", 4000)
	if len(chunks) != 1 || chunks[0] != "" {
		t.Errorf("chunks = %v", chunks)
	}
}
