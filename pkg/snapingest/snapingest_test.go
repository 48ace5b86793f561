package snapingest

import (
	"context"
	"errors"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestTimestampRangeSelectorIncludes(t *testing.T) {
	cases := []struct {
		name string
		r    *TimestampRangeSelector
		val  string
		want bool
	}{
		{"nil range includes everything", nil, "20240101T000000Z", true},
		{"unbounded both sides", &TimestampRangeSelector{}, "20240101T000000Z", true},
		{"below lo", &TimestampRangeSelector{Lo: "20240102T000000Z"}, "20240101T000000Z", false},
		{"at lo", &TimestampRangeSelector{Lo: "20240102T000000Z"}, "20240102T000000Z", true},
		{"above hi", &TimestampRangeSelector{Hi: "20240102T000000Z"}, "20240103T000000Z", false},
		{"at hi", &TimestampRangeSelector{Hi: "20240102T000000Z"}, "20240102T000000Z", true},
		{"within both bounds", &TimestampRangeSelector{Lo: "20240101T000000Z", Hi: "20240103T000000Z"}, "20240102T000000Z", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Assert(t, c.r.includes(c.val) == c.want)
		})
	}
}

func TestParseTimestampListBodyDedupesAndSorts(t *testing.T) {
	body := "20240103T000000Z\n20240101T000000Z\n20240101T000000Z\n\n20240102T000000Z\n"

	got := ParseTimestampListBody(body)

	want := []string{"20240101T000000Z", "20240102T000000Z", "20240103T000000Z"}

	assert.Assert(t, len(got) == len(want))
	for i := range want {
		assert.EqualString(t, got[i], want[i])
	}
}

func TestFilterByRange(t *testing.T) {
	all := []string{"20240101T000000Z", "20240102T000000Z", "20240103T000000Z"}

	got := FilterByRange(all, &TimestampRangeSelector{Lo: "20240102T000000Z"})

	assert.Assert(t, len(got) == 2)
	assert.EqualString(t, got[0], "20240102T000000Z")
}

type stubLister struct {
	calls int
	out   []string
	err   error
}

func (s *stubLister) ListTimestamps(ctx context.Context, archive string) ([]string, error) {
	s.calls++
	return s.out, s.err
}

func TestCachedTimestampListerFetchesOnce(t *testing.T) {
	stub := &stubLister{out: []string{"20240102T000000Z", "20240101T000000Z"}}
	cached := NewCachedTimestampLister(stub)

	first, err := cached.ListTimestamps(context.Background(), "debian")
	assert.Ok(t, err)
	second, err := cached.ListTimestamps(context.Background(), "debian")
	assert.Ok(t, err)

	assert.Assert(t, stub.calls == 1)

	assert.EqualString(t, first[0], "20240101T000000Z")
	assert.EqualString(t, second[0], "20240101T000000Z")
}

func TestFallbackTimestampListerFallsBackOnError(t *testing.T) {
	primary := &stubLister{err: errors.New("upstream down")}
	secondary := &stubLister{out: []string{"20240101T000000Z"}}

	fallback := NewFallbackTimestampLister(primary, secondary)

	got, err := fallback.ListTimestamps(context.Background(), "debian")
	assert.Ok(t, err)
	assert.Assert(t, len(got) == 1)
	assert.EqualString(t, got[0], "20240101T000000Z")
	assert.Assert(t, secondary.calls == 1)
}
