package confirm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/wipeit/pkg/resource"
)

func testSelection() resource.Selection {
	return resource.Selection{
		resource.KindObjectStoreBucket: {"logs-bucket"},
		resource.KindBlockVolume:       {"vol-1", "vol-2"},
	}
}

// ═══ Prompt Tests ═══

func TestRequiresConfirmation_EnumeratesEveryPair(t *testing.T) {
	p := RequiresConfirmation(testSelection(), nil)

	assert.Equal(t, 3, p.Total)
	assert.Contains(t, p.Text, "3 resource(s)")
	for _, id := range []string{"logs-bucket", "vol-1", "vol-2"} {
		assert.Contains(t, p.Text, id)
	}
	assert.Contains(t, p.Text, string(resource.KindBlockVolume))
	assert.Contains(t, p.Text, string(resource.KindObjectStoreBucket))

	// Buckets are declared before volumes.
	assert.Less(t, strings.Index(p.Text, "logs-bucket"), strings.Index(p.Text, "vol-1"))
}

func TestRequiresConfirmation_ListsSkipped(t *testing.T) {
	skipped := []resource.Ref{{Kind: resource.KindManagedDatabase, ID: "prod-db"}}
	p := RequiresConfirmation(testSelection(), skipped)

	assert.Contains(t, p.Text, "NOT be deleted")
	assert.Contains(t, p.Text, "managed-database/prod-db")
	assert.Equal(t, 3, p.Total)
}

func TestRequiresConfirmation_MarksUnsupportedKinds(t *testing.T) {
	sel := testSelection()
	sel[resource.Kind("dynamodb")] = []string{"arn:aws:dynamodb:us-east-1:123456789012:table/orders"}
	p := RequiresConfirmation(sel, nil)

	assert.Equal(t, 4, p.Total)
	assert.Contains(t, p.Text, "dynamodb (1, unsupported kind")
	assert.Contains(t, p.Text, "table/orders")
	assert.NotContains(t, p.Text, "block-volume (2, unsupported")
}

func TestDigest_StableAndSensitive(t *testing.T) {
	a := Digest(testSelection())
	b := Digest(testSelection())
	assert.Equal(t, a, b)

	other := testSelection()
	other[resource.KindBlockVolume] = []string{"vol-1"}
	assert.NotEqual(t, a, Digest(other))
}

// ═══ Approval Tests ═══

func TestApprove_Confirmed(t *testing.T) {
	p := RequiresConfirmation(testSelection(), nil)

	a, err := Approve(p, p.Digest, true)
	require.NoError(t, err)

	assert.True(t, a.Approved())
	assert.Equal(t, testSelection(), a.Selection())
	assert.Equal(t, p.Digest, a.Digest())
}

func TestApprove_Rejected(t *testing.T) {
	p := RequiresConfirmation(testSelection(), nil)

	a, err := Approve(p, p.Digest, false)
	require.NoError(t, err)

	assert.False(t, a.Approved())
	assert.Empty(t, a.Selection())
}

func TestApprove_DigestMismatch(t *testing.T) {
	p := RequiresConfirmation(testSelection(), nil)

	a, err := Approve(p, "stale", true)
	require.Error(t, err)
	assert.False(t, a.Approved())
}

func TestApproval_ZeroValue(t *testing.T) {
	var a Approval
	assert.False(t, a.Approved())
	assert.Empty(t, a.Selection())
}

func TestApproval_IsolatedFromCallerMutation(t *testing.T) {
	sel := testSelection()
	p := RequiresConfirmation(sel, nil)
	sel[resource.KindSecret] = []string{"sneaked-in"}

	a, err := Approve(p, p.Digest, true)
	require.NoError(t, err)
	assert.NotContains(t, a.Selection(), resource.KindSecret)
}

// ═══ Terminal Tests ═══

func TestTerminal_Confirm(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"yes", "yes\n", true},
		{"short yes", "Y\n", true},
		{"no", "no\n", false},
		{"empty line", "\n", false},
		{"eof", "", false},
		{"reask then yes", "maybe\nyes\n", true},
	}

	p := RequiresConfirmation(testSelection(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			term := Terminal{In: strings.NewReader(tt.input), Out: &out}

			got, err := term.Confirm(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "vol-2")
		})
	}
}

type errConfirmer struct{}

func (errConfirmer) Confirm(context.Context, Prompt) (bool, error) {
	return false, errors.New("tty closed")
}

func TestAsk(t *testing.T) {
	p := RequiresConfirmation(testSelection(), nil)

	a, err := Ask(context.Background(), Preapproved{}, p)
	require.NoError(t, err)
	assert.True(t, a.Approved())

	a, err = Ask(context.Background(), errConfirmer{}, p)
	require.Error(t, err)
	assert.False(t, a.Approved())

	empty := RequiresConfirmation(resource.Selection{}, nil)
	a, err = Ask(context.Background(), Preapproved{}, empty)
	require.NoError(t, err)
	assert.False(t, a.Approved())
}
