package transform

import (
	"math/big"
	"math/rand"
	"reflect"
	"testing"
)

func cleaned(t *testing.T, line, sales string) CleanedRecord {
	t.Helper()
	rec, err := Clean(RawRecord{ProductLine: line, Sales: sales})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestAggregate(t *testing.T) {
	records := []CleanedRecord{
		cleaned(t, "Vintage", "30"),
		cleaned(t, "Classic Cars", "100"),
		cleaned(t, "classic cars", "50"),
		cleaned(t, "", "7"),
	}

	rows := Aggregate(records)
	got := make([][]string, 0, len(rows))
	for _, r := range rows {
		got = append(got, r.Record())
	}

	want := [][]string{
		{"", "7", "1"},
		{"CLASSIC CARS", "150", "2"},
		{"VINTAGE", "30", "1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Aggregate() = %v, want %v", got, want)
	}
}

func TestAggregateConservesCountsAndSums(t *testing.T) {
	lines := []string{"Motorcycles", "Planes", "Ships", "Trains", "motorcycles"}
	rng := rand.New(rand.NewSource(42))

	var records []CleanedRecord
	total := new(big.Rat)
	for i := 0; i < 500; i++ {
		cents := rng.Int63n(1_000_000)
		r := new(big.Rat).SetFrac64(cents, 100)
		records = append(records, CleanedRecord{ProductLine: CleanProductLine(lines[i%len(lines)]), Sales: r})
		total.Add(total, r)
	}

	rows := Aggregate(records)

	var count int64
	sum := new(big.Rat)
	for _, row := range rows {
		count += row.NumTransactions
		sum.Add(sum, row.TotalSalesAmount)
	}
	if count != int64(len(records)) {
		t.Fatalf("count %d != %d input rows", count, len(records))
	}
	if sum.Cmp(total) != 0 {
		t.Fatalf("sum %s != %s", sum.FloatString(2), total.FloatString(2))
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 distinct product lines, got %d", len(rows))
	}
}

func TestAggregateShuffleInvariant(t *testing.T) {
	var records []CleanedRecord
	for i, s := range []string{"0.1", "0.2", "0.3", "1e-9", "123456789.987654321", "-5.5", "0.7"} {
		line := "A"
		if i%2 == 0 {
			line = "B"
		}
		records = append(records, cleaned(t, line, s))
	}

	want := recordsOf(Aggregate(records))
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]CleanedRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := recordsOf(Aggregate(shuffled)); !reflect.DeepEqual(got, want) {
			t.Fatalf("shuffle %d changed output: %v != %v", i, got, want)
		}
	}
}

func recordsOf(rows []AggregateRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Record())
	}
	return out
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"150", "150"},
		{"0.3", "0.3"},
		{"2871.50", "2871.5"},
		{"-49/4", "-12.25"},
		{"1/3", "0.3333333333"},
		{"0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, _ := new(big.Rat).SetString(tt.in)
			if got := FormatAmount(r); got != tt.want {
				t.Fatalf("FormatAmount(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
