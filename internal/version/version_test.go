package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet_Defaults(t *testing.T) {
	b := Get()
	require.NotEmpty(t, b.Version)
	require.NotEmpty(t, b.Commit)
	require.NotEmpty(t, b.Date)
	require.Equal(t, runtime.Version(), b.GoVersion)
}

func TestString_ContainsAllFields(t *testing.T) {
	old := version
	version = "1.2.3"
	t.Cleanup(func() { version = old })

	s := String()
	require.Contains(t, s, "version=1.2.3")
	require.Contains(t, s, "commit=")
	require.Contains(t, s, "date=")
	require.Contains(t, s, "go=")
}
