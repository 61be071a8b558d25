package diff

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoundTrip(t *testing.T) {
	ref := uuid.New()
	cases := []struct {
		name string
		kind Kind
		in   any
	}{
		{"string", KindString, "hello"},
		{"int", KindInt, 42},
		{"float", KindFloat, 3.25},
		{"bool", KindBool, true},
		{"decimal", KindDecimal, decimal.RequireFromString("19.99")},
		{"time", KindTime, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)},
		{"date", KindDate, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"ref", KindRef, ref},
		{"nil", KindString, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			canonical, err := Normalize(tc.in, tc.kind)
			require.NoError(t, err)

			payload, err := Encode(map[string]any{"v": canonical})
			require.NoError(t, err)
			decoded, err := Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, canonical, decoded["v"], "decode(encode(x)) must equal x")
		})
	}
}

func TestNormalizeRejectsBadValues(t *testing.T) {
	_, err := Normalize(3.5, KindInt)
	assert.Error(t, err)
	_, err = Normalize("not-a-date", KindDate)
	assert.Error(t, err)
	_, err = Normalize("not-a-uuid", KindRef)
	assert.Error(t, err)
	_, err = Normalize(struct{}{}, KindString)
	assert.Error(t, err)
}

func TestValidateFields(t *testing.T) {
	require.NoError(t, ValidateFields([]Field{{"name", KindString}, {"pages", KindInt}}))
	assert.Error(t, ValidateFields(nil), "empty field set")
	assert.Error(t, ValidateFields([]Field{{"a", KindString}, {"a", KindInt}}), "duplicate")
	assert.Error(t, ValidateFields([]Field{{"a", Kind(99)}}), "unsupported kind")
}

func TestComputeModify(t *testing.T) {
	prior := map[string]any{"name": "Old", "pages": float64(100), "in_print": true}
	proposed := map[string]any{"name": "New", "pages": float64(100), "in_print": true}

	changed, revert := Compute(prior, proposed, []string{"name", "pages", "in_print"})
	assert.Equal(t, map[string]any{"name": "New"}, changed, "unchanged fields are omitted")
	assert.Equal(t, map[string]any{"name": "Old"}, revert)
}

func TestComputeModifyIgnoresFieldsOutsideSet(t *testing.T) {
	prior := map[string]any{"name": "Old", "secret": "a"}
	proposed := map[string]any{"name": "New", "secret": "b"}

	changed, _ := Compute(prior, proposed, []string{"name"})
	assert.Equal(t, map[string]any{"name": "New"}, changed)
}

func TestComputeAddAndDelete(t *testing.T) {
	state := map[string]any{"name": "Thing", "pages": float64(12)}

	changed, revert := Compute(nil, state, []string{"name", "pages"})
	assert.Equal(t, state, changed, "ADD stores the full proposed state")
	assert.Nil(t, revert, "ADD needs no revert snapshot")

	changed, revert = Compute(state, nil, []string{"name", "pages"})
	assert.Nil(t, changed)
	assert.Equal(t, state, revert, "DELETE stores the full prior state")
}

func TestComputeRelatedPartitions(t *testing.T) {
	prior := []map[string]any{
		{"id": "1", "name": "A"},
		{"id": "2", "name": "B"},
	}
	proposed := []map[string]any{
		{"id": "2", "name": "B2"},
		{"id": "3", "name": "C"},
	}

	d, err := ComputeRelated(prior, proposed, "id")
	require.NoError(t, err)

	assert.Equal(t, map[string]map[string]any{"3": {"id": "3", "name": "C"}}, d.Added)
	assert.Equal(t, map[string]map[string]any{"2": {"name": "B2"}}, d.Modified)
	assert.Equal(t, map[string]map[string]any{"1": {"id": "1", "name": "A"}}, d.Deleted)
}

func TestComputeRelatedExhaustiveAndDisjoint(t *testing.T) {
	prior := []map[string]any{
		{"id": "1", "name": "A"}, {"id": "2", "name": "B"}, {"id": "4", "name": "D"},
	}
	proposed := []map[string]any{
		{"id": "2", "name": "B"}, {"id": "3", "name": "C"}, {"id": "4", "name": "D2"},
	}

	d, err := ComputeRelated(prior, proposed, "id")
	require.NoError(t, err)

	all := map[string]bool{"1": true, "2": true, "3": true, "4": true}
	partitioned := make(map[string]int)
	for k := range d.Added {
		partitioned[k]++
	}
	for k := range d.Modified {
		partitioned[k]++
	}
	for k := range d.Deleted {
		partitioned[k]++
	}
	for k := range partitioned {
		assert.True(t, all[k], "partition key %s must come from prior or proposed", k)
		assert.Equal(t, 1, partitioned[k], "key %s must appear in exactly one partition", k)
	}
	// "2" is unchanged and must not appear anywhere.
	assert.NotContains(t, partitioned, "2")
}

func TestComputeRelatedNewMembersWithoutKey(t *testing.T) {
	proposed := []map[string]any{{"name": "fresh"}}
	d, err := ComputeRelated(nil, proposed, "id")
	require.NoError(t, err)
	require.Len(t, d.Added, 1)
	assert.Contains(t, d.Added, "new:1")
}

func TestComputeRelatedDuplicateKey(t *testing.T) {
	dup := []map[string]any{{"id": "1", "name": "a"}, {"id": "1", "name": "b"}}

	_, err := ComputeRelated(nil, dup, "id")
	assert.Error(t, err, "duplicate key in proposed members")

	_, err = ComputeRelated(dup, nil, "id")
	assert.Error(t, err, "duplicate key in prior members")
}

func TestRelatedDiffRoundTrip(t *testing.T) {
	d, err := ComputeRelated(
		[]map[string]any{{"id": "1", "name": "A"}},
		[]map[string]any{{"id": "1", "name": "B"}, {"id": "2", "name": "C"}},
		"id",
	)
	require.NoError(t, err)

	payload, err := EncodeRelated(d)
	require.NoError(t, err)
	decoded, err := DecodeRelated(payload)
	require.NoError(t, err)
	assert.Equal(t, d, decoded)
}

func TestRelatedDiffSummaries(t *testing.T) {
	d, err := ComputeRelated(
		[]map[string]any{{"id": "1", "name": "Gone"}},
		[]map[string]any{{"id": "2", "name": "Fresh"}},
		"id",
	)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", d.AddedStr())
	assert.Equal(t, "Gone", d.DeletedStr())
	assert.Equal(t, "", d.ModifiedStr())
	assert.False(t, d.Empty())
	assert.True(t, RelatedDiff{}.Empty())
}
