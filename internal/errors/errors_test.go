package errors

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormat(t *testing.T) {
	err := AtLine(KindTruncation, "src/a.go", 12, "standalone ellipsis line")
	assert.Equal(t, "E_TRUNCATION: src/a.go:12: standalone ellipsis line", err.Error())

	err = AtStep("packaging", "write FULL", fmt.Errorf("disk full"))
	assert.Equal(t, "E_TRANSACTION: step packaging: write FULL: disk full", err.Error())
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	inner := Newf(KindContiguity, "version sequence broken: %d -> %d", 3, 5)
	wrapped := fmt.Errorf("verify: %w", inner)

	assert.True(t, Is(wrapped, ErrContiguity))
	assert.False(t, Is(wrapped, ErrFormat))
	assert.Equal(t, KindContiguity, GetKind(wrapped))
}

func TestIsThroughJoin(t *testing.T) {
	joined := Join(New(KindFormat, "a"), New(KindTruncation, "b"))
	assert.True(t, Is(joined, ErrFormat))
	assert.True(t, Is(joined, ErrTruncation))
	assert.False(t, Is(joined, ErrScan))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(New(KindUsage, "bad flag")))
	assert.Equal(t, 1, ExitCode(New(KindConfig, "bad policy")))
	assert.Equal(t, 1, ExitCode(fmt.Errorf("plain")))
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, New(KindConfig, "policy missing"))
	assert.Equal(t, "error_code: E_CONFIG\nE_CONFIG: policy missing\n", buf.String())

	buf.Reset()
	Print(&buf, fmt.Errorf("plain failure"))
	assert.Equal(t, "plain failure\n", buf.String())
}
