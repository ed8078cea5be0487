package querylist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfclprep/pkg/contract"
)

// TestDecode 覆盖正常、围栏与空白项。
func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", `{"queries":["Find quartz","List minerals with Fe"]}`, []string{"Find quartz", "List minerals with Fe"}},
		{"fence", "```json\n{\"queries\": [\"a\"]}\n```", []string{"a"}},
		{"blank items", `{"queries":["  ","b ",""]}`, []string{"b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := New(nil).Decode(context.Background(), contract.QueryRequest{Count: 5}, contract.Raw{Text: tc.in})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestDecodeInvalid 均归类为 ErrResponseInvalid。
func TestDecodeInvalid(t *testing.T) {
	for _, in := range []string{``, `nope`, `{"other":[]}`, `{"queries":"x"}`, `{"queries":[]}`, `{"queries":[1]}`} {
		_, err := New(nil).Decode(context.Background(), contract.QueryRequest{}, contract.Raw{Text: in})
		assert.ErrorIs(t, err, contract.ErrResponseInvalid, in)
	}
}

// TestDecodeExactCount 条数约束与自定义字段。
func TestDecodeExactCount(t *testing.T) {
	d := New(&Options{Field: "items", ExactCount: true})
	_, err := d.Decode(context.Background(), contract.QueryRequest{Count: 2}, contract.Raw{Text: `{"items":["a"]}`})
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
	got, err := d.Decode(context.Background(), contract.QueryRequest{Count: 2}, contract.Raw{Text: `{"items":["a","b"]}`})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
