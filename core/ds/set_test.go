package ds

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet_AddKeepsOrder(t *testing.T) {
	s := NewSet("b", "a", "b")
	require.Equal(t, []string{"b", "a"}, s.Values())

	require.True(t, s.Add("c"))
	require.False(t, s.Add("a"))
	require.Equal(t, 3, s.Len())
	require.Equal(t, "[b a c]", s.String())
}

func TestSet_Remove(t *testing.T) {
	s := NewSet(1, 2, 3, 4)
	s.Remove(2, 4, 9)
	require.Equal(t, []int{1, 3}, s.Values())
	require.False(t, s.Contains(2))

	s.Remove(1, 3)
	require.True(t, s.IsEmpty())
	require.True(t, s.Add(2))
}

func TestSet_CloneIsIndependent(t *testing.T) {
	a := NewSet("x")
	b := a.Clone()
	b.Add("y")
	require.Equal(t, []string{"x"}, a.Values())
	require.Equal(t, []string{"x", "y"}, b.Values())
}

func TestSet_JSON(t *testing.T) {
	s := NewSet("hello", "world")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, `["hello","world"]`, string(data))

	data, err = json.Marshal(NewSet[string]())
	require.NoError(t, err)
	require.Equal(t, `[]`, string(data))

	var back Set[string]
	require.NoError(t, json.Unmarshal([]byte(`["a","b","a"]`), &back))
	require.Equal(t, []string{"a", "b"}, back.Values())
}
