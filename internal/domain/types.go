// Package domain defines the core value types shared by the calendar, store
// and gather packages.
package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EntryType identifies what a store column holds.
type EntryType string

const (
	EntryPrice   EntryType = "price"
	EntryProfile EntryType = "profile"
)

// Valid reports whether e is a known entry type.
func (e EntryType) Valid() bool {
	switch e {
	case EntryPrice, EntryProfile:
		return true
	}
	return false
}

// Observation is the payload held by one (symbol, timestamp) cell. Price
// columns carry Price; profile columns carry a structured Record. An absent
// cell is represented by the absence of an Observation, never by a zero one.
type Observation struct {
	Price  decimal.Decimal
	Record *structpb.Struct
}

// PriceObservation wraps a price value.
func PriceObservation(p decimal.Decimal) Observation {
	return Observation{Price: p}
}

// RecordObservation builds a structured observation from plain Go values.
func RecordObservation(fields map[string]any) (Observation, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return Observation{}, fmt.Errorf("building record: %w", err)
	}
	return Observation{Record: s}, nil
}

// IsRecord reports whether o carries a structured record.
func (o Observation) IsRecord() bool { return o.Record != nil }

// Equal reports whether two observations hold the same value.
func (o Observation) Equal(p Observation) bool {
	if o.IsRecord() != p.IsRecord() {
		return false
	}
	if o.IsRecord() {
		return proto.Equal(o.Record, p.Record)
	}
	return o.Price.Equal(p.Price)
}

func (o Observation) String() string {
	if !o.IsRecord() {
		return o.Price.String()
	}
	keys := make([]string, 0, len(o.Record.GetFields()))
	for k := range o.Record.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := "{"
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s:%v", k, o.Record.GetFields()[k].AsInterface())
	}
	return s + "}"
}

// Record pairs a timestamp with an observation. Fetchers return raw records
// with vendor timestamps; the merge engine stages records keyed by calendar
// timestamps.
type Record struct {
	Timestamp time.Time
	Value     Observation
}
